package model

import (
	"time"

	"github.com/google/uuid"
)

// Blob is a stored binary asset (profile photos). Key addresses the bytes in
// the storage backend; the row is the source of truth for existence.
type Blob struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ByteSize    int64     `json:"byte_size"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}
