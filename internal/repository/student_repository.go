package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/search"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrDuplicateEmail  = errors.New("student with this school email already exists")
	ErrInvalidMajor    = errors.New("major is not in the allowed set")
)

// Constraint names from migrations/000002_create_students.up.sql.
const (
	constraintEmailUnique = "students_school_email_lower_key"
	constraintMajorCheck  = "students_major_check"
)

// StudentRepository is the student record store. Email uniqueness and the
// major set are enforced by the database, so Create is an atomic
// check-and-insert.
type StudentRepository interface {
	Create(ctx context.Context, s *model.Student) error
	GetByID(ctx context.Context, id int64) (*model.Student, error)
	// Delete removes the row and returns it as it was, so the caller can
	// release the attached photo.
	Delete(ctx context.Context, id int64) (*model.Student, error)
	List(ctx context.Context) ([]model.Student, error)
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, c search.Criteria) ([]model.Student, error)
	// SetProfilePhoto swaps the photo reference and returns the previous one.
	SetProfilePhoto(ctx context.Context, id int64, blobID *uuid.UUID) (*uuid.UUID, error)
}

var studentColumns = []string{
	"id", "first_name", "last_name", "school_email", "major",
	"graduation_date", "profile_photo_id", "created_at", "updated_at",
}

type studentRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewStudentRepository creates a PostgreSQL-backed StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) StudentRepository {
	return &studentRepository{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func scanStudent(row pgx.Row, s *model.Student) error {
	return row.Scan(
		&s.ID, &s.FirstName, &s.LastName, &s.SchoolEmail, &s.Major,
		&s.GraduationDate, &s.ProfilePhotoID, &s.CreatedAt, &s.UpdatedAt,
	)
}

// mapWriteError translates constraint violations into sentinel errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23505" && pgErr.ConstraintName == constraintEmailUnique:
		return ErrDuplicateEmail
	case pgErr.Code == "23514" && pgErr.ConstraintName == constraintMajorCheck:
		return ErrInvalidMajor
	}
	return err
}

// Create inserts a new student.
func (r *studentRepository) Create(ctx context.Context, s *model.Student) error {
	query, args, err := r.sb.Insert("students").
		Columns("first_name", "last_name", "school_email", "major", "graduation_date", "profile_photo_id").
		Values(s.FirstName, s.LastName, s.SchoolEmail, string(s.Major), s.GraduationDate, s.ProfilePhotoID).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert student: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetByID retrieves a student by ID.
func (r *studentRepository) GetByID(ctx context.Context, id int64) (*model.Student, error) {
	query, args, err := r.sb.Select(studentColumns...).
		From("students").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get student: %w", err)
	}

	s := &model.Student{}
	if err := scanStudent(r.pool.QueryRow(ctx, query, args...), s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return s, nil
}

// Delete removes a student by ID.
func (r *studentRepository) Delete(ctx context.Context, id int64) (*model.Student, error) {
	query, args, err := r.sb.Delete("students").
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(studentColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete student: %w", err)
	}

	s := &model.Student{}
	if err := scanStudent(r.pool.QueryRow(ctx, query, args...), s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return s, nil
}

// List returns every student. Only used by maintenance paths (seeding).
func (r *studentRepository) List(ctx context.Context) ([]model.Student, error) {
	return r.query(ctx, r.sb.Select(studentColumns...).From("students").OrderBy("id"))
}

// Count returns the number of students.
func (r *studentRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Search returns students matching c. Empty criteria return nothing without
// touching the database.
func (r *studentRepository) Search(ctx context.Context, c search.Criteria) ([]model.Student, error) {
	if c.Empty() {
		return nil, nil
	}
	return r.query(ctx, r.sb.Select(studentColumns...).
		From("students").
		Where(c.Where()).
		OrderBy("last_name", "first_name", "id"))
}

// SetProfilePhoto points the student at blobID (nil detaches) and returns the
// previously attached blob, read under the same row lock.
func (r *studentRepository) SetProfilePhoto(ctx context.Context, id int64, blobID *uuid.UUID) (*uuid.UUID, error) {
	var previous *uuid.UUID
	err := r.pool.QueryRow(ctx,
		`UPDATE students s
		 SET profile_photo_id = $1, updated_at = CURRENT_TIMESTAMP
		 FROM (SELECT id, profile_photo_id FROM students WHERE id = $2 FOR UPDATE) old
		 WHERE s.id = old.id
		 RETURNING old.profile_photo_id`,
		blobID, id,
	).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return previous, nil
}

func (r *studentRepository) query(ctx context.Context, b squirrel.SelectBuilder) ([]model.Student, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build student query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var s model.Student
		if err := scanStudent(rows, &s); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}
