package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/metrics"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/queue"
	"github.com/stemsi/student-directory/internal/repository"
)

// Sentinel errors for photo uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrEmptyFile           = errors.New("file is empty")
)

// Allowed image MIME types, detected from content rather than headers.
var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// BlobService attaches uploaded images as blobs and releases them.
type BlobService struct {
	blobs    repository.BlobRepository
	backend  Backend
	queue    queue.PurgeQueue
	maxBytes int64
	log      zerolog.Logger
}

// NewBlobService creates a new BlobService.
func NewBlobService(
	blobs repository.BlobRepository,
	backend Backend,
	q queue.PurgeQueue,
	maxBytes int64,
	log zerolog.Logger,
) *BlobService {
	return &BlobService{
		blobs:    blobs,
		backend:  backend,
		queue:    q,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "blob_service").Logger(),
	}
}

// Attach stores r as a new blob. The caller links it to a student; until
// then it is an orphan the sweep may collect after the grace period.
func (s *BlobService) Attach(ctx context.Context, filename string, r io.Reader) (*model.Blob, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, s.maxBytes)
	}

	mtype := mimetype.Detect(data)
	if !allowedMIMETypes[mtype.String()] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, mtype.String())
	}

	sum := sha256.Sum256(data)
	id := uuid.New()
	blob := &model.Blob{
		ID:          id,
		Key:         strings.ReplaceAll(id.String(), "-", ""),
		Filename:    cleanFilename(filename, mtype.Extension()),
		ContentType: mtype.String(),
		ByteSize:    int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
	}

	if err := s.backend.Put(ctx, blob.Key, data); err != nil {
		return nil, err
	}
	if err := s.blobs.Create(ctx, blob); err != nil {
		if delErr := s.backend.Delete(ctx, blob.Key); delErr != nil {
			s.log.Error().Err(delErr).Str("key", blob.Key).Msg("Failed to clean up blob file after insert error")
		}
		return nil, fmt.Errorf("save blob: %w", err)
	}

	s.log.Debug().
		Str("blob_id", blob.ID.String()).
		Str("content_type", blob.ContentType).
		Int64("bytes", blob.ByteSize).
		Msg("Blob attached")
	return blob, nil
}

// Open returns the blob metadata and a reader over its bytes.
func (s *BlobService) Open(ctx context.Context, id uuid.UUID) (*model.Blob, io.ReadCloser, error) {
	blob, err := s.blobs.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.backend.Open(ctx, blob.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return blob, rc, nil
}

// Purge deletes the bytes, then the row. A blob that is already gone counts
// as purged.
func (s *BlobService) Purge(ctx context.Context, id uuid.UUID) error {
	blob, err := s.blobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBlobNotFound) {
			metrics.BlobPurges.WithLabelValues("missing").Inc()
			return nil
		}
		metrics.BlobPurges.WithLabelValues("error").Inc()
		return err
	}

	if err := s.backend.Delete(ctx, blob.Key); err != nil {
		metrics.BlobPurges.WithLabelValues("error").Inc()
		return err
	}
	if err := s.blobs.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrBlobNotFound) {
		metrics.BlobPurges.WithLabelValues("error").Inc()
		return err
	}

	metrics.BlobPurges.WithLabelValues("purged").Inc()
	s.log.Info().Str("blob_id", id.String()).Msg("Blob purged")
	return nil
}

// PurgeLater enqueues the blob for the purge worker and returns immediately.
func (s *BlobService) PurgeLater(ctx context.Context, id uuid.UUID) error {
	if err := s.queue.Push(ctx, id); err != nil {
		return fmt.Errorf("enqueue purge %s: %w", id, err)
	}
	return nil
}

// cleanFilename keeps the base name of an upload, falling back to a name
// derived from the detected extension.
func cleanFilename(name, ext string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "photo" + ext
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}

