package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/student-directory/internal/model"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobRepository persists blob metadata. Deleting a blob row clears any
// student reference to it (ON DELETE SET NULL).
type BlobRepository interface {
	Create(ctx context.Context, b *model.Blob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Blob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListOrphans returns blobs no student references that were created
	// before the cutoff.
	ListOrphans(ctx context.Context, createdBefore time.Time) ([]model.Blob, error)
}

var blobColumns = []string{"b.id", "b.key", "b.filename", "b.content_type", "b.byte_size", "b.checksum", "b.created_at"}

type blobRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewBlobRepository creates a PostgreSQL-backed BlobRepository.
func NewBlobRepository(pool *pgxpool.Pool) BlobRepository {
	return &blobRepository{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func scanBlob(row pgx.Row, b *model.Blob) error {
	return row.Scan(&b.ID, &b.Key, &b.Filename, &b.ContentType, &b.ByteSize, &b.Checksum, &b.CreatedAt)
}

// Create inserts blob metadata. ID must already be set.
func (r *blobRepository) Create(ctx context.Context, b *model.Blob) error {
	query, args, err := r.sb.Insert("blobs").
		Columns("id", "key", "filename", "content_type", "byte_size", "checksum").
		Values(b.ID, b.Key, b.Filename, b.ContentType, b.ByteSize, b.Checksum).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert blob: %w", err)
	}
	return r.pool.QueryRow(ctx, query, args...).Scan(&b.CreatedAt)
}

// GetByID retrieves blob metadata.
func (r *blobRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Blob, error) {
	query, args, err := r.sb.Select(blobColumns...).
		From("blobs b").
		Where(squirrel.Eq{"b.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get blob: %w", err)
	}

	b := &model.Blob{}
	if err := scanBlob(r.pool.QueryRow(ctx, query, args...), b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return b, nil
}

// Delete removes blob metadata.
func (r *blobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM blobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlobNotFound
	}
	return nil
}

// ListOrphans finds blobs left behind by deleted students or abandoned
// uploads.
func (r *blobRepository) ListOrphans(ctx context.Context, createdBefore time.Time) ([]model.Blob, error) {
	query, args, err := r.sb.Select(blobColumns...).
		From("blobs b").
		LeftJoin("students s ON s.profile_photo_id = b.id").
		Where("s.id IS NULL").
		Where(squirrel.Lt{"b.created_at": createdBefore}).
		OrderBy("b.created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build orphan query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blobs []model.Blob
	for rows.Next() {
		var b model.Blob
		if err := scanBlob(rows, &b); err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}
