package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/metrics"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/search"
	"github.com/stemsi/student-directory/internal/storage"
	"github.com/stemsi/student-directory/internal/validator"
)

// ErrNoPhoto is returned when a photo operation targets a student without one.
var ErrNoPhoto = errors.New("student has no profile photo")

const enqueueTimeout = 5 * time.Second

// ValidationError carries field-level messages for a rejected create.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// Upload is an image submitted alongside a form.
type Upload struct {
	Filename string
	Reader   io.Reader
}

// StudentService handles student business logic.
type StudentService struct {
	studentRepo repository.StudentRepository
	blobs       *storage.BlobService
	log         zerolog.Logger
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo repository.StudentRepository, blobs *storage.BlobService, log zerolog.Logger) *StudentService {
	return &StudentService{
		studentRepo: studentRepo,
		blobs:       blobs,
		log:         log.With().Str("component", "student_service").Logger(),
	}
}

// Create validates the form and inserts a student, attaching photo when
// given. Nothing is persisted if any step fails.
func (s *StudentService) Create(ctx context.Context, form model.StudentForm, photo *Upload) (*model.Student, error) {
	form.Normalize()
	if fields := validator.Struct(&form); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}

	student, err := form.Student()
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"graduation_date": err.Error()}}
	}

	var blob *model.Blob
	if photo != nil {
		blob, err = s.blobs.Attach(ctx, photo.Filename, photo.Reader)
		if err != nil {
			if msg, ok := uploadMessage(err); ok {
				return nil, &ValidationError{Fields: map[string]string{"profile_photo": msg}}
			}
			return nil, err
		}
		student.ProfilePhotoID = &blob.ID
	}

	if err := s.studentRepo.Create(ctx, student); err != nil {
		if blob != nil {
			s.discard(blob.ID)
		}
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, &ValidationError{Fields: map[string]string{"school_email": "school_email has already been taken"}}
		case errors.Is(err, repository.ErrInvalidMajor):
			return nil, &ValidationError{Fields: map[string]string{"major": fmt.Sprintf("%s is not a valid major", student.Major)}}
		}
		return nil, err
	}

	metrics.StudentsCreated.Inc()
	s.log.Info().Int64("student_id", student.ID).Bool("photo", blob != nil).Msg("Student created")
	return student, nil
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int64) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// List returns every student. Not exposed over HTTP.
func (s *StudentService) List(ctx context.Context) ([]model.Student, error) {
	return s.studentRepo.List(ctx)
}

// Count returns the number of students.
func (s *StudentService) Count(ctx context.Context) (int, error) {
	return s.studentRepo.Count(ctx)
}

// Search returns students matching c. Empty criteria match nobody.
func (s *StudentService) Search(ctx context.Context, c search.Criteria) ([]model.Student, error) {
	if c.Empty() {
		return []model.Student{}, nil
	}
	students, err := s.studentRepo.Search(ctx, c)
	if err != nil {
		return nil, err
	}
	if students == nil {
		students = []model.Student{}
	}
	return students, nil
}

// Delete removes a student and schedules its photo for purge.
func (s *StudentService) Delete(ctx context.Context, id int64) error {
	student, err := s.studentRepo.Delete(ctx, id)
	if err != nil {
		return err
	}

	metrics.StudentsDeleted.Inc()
	s.log.Info().Int64("student_id", id).Msg("Student deleted")

	if student.ProfilePhotoID != nil {
		s.releaseLater(*student.ProfilePhotoID)
	}
	return nil
}

// AttachPhoto stores a new profile photo for the student, replacing any
// previous one. The replaced photo is purged later.
func (s *StudentService) AttachPhoto(ctx context.Context, id int64, photo Upload) (*model.Student, error) {
	if _, err := s.studentRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	blob, err := s.blobs.Attach(ctx, photo.Filename, photo.Reader)
	if err != nil {
		return nil, err
	}

	previous, err := s.studentRepo.SetProfilePhoto(ctx, id, &blob.ID)
	if err != nil {
		s.discard(blob.ID)
		return nil, err
	}
	if previous != nil {
		s.releaseLater(*previous)
	}

	return s.studentRepo.GetByID(ctx, id)
}

// DetachPhoto unlinks the student's photo and purges it later.
func (s *StudentService) DetachPhoto(ctx context.Context, id int64) error {
	previous, err := s.studentRepo.SetProfilePhoto(ctx, id, nil)
	if err != nil {
		return err
	}
	if previous == nil {
		return ErrNoPhoto
	}
	s.releaseLater(*previous)
	return nil
}

// OpenPhoto returns the student's photo metadata and bytes. The caller
// closes the reader.
func (s *StudentService) OpenPhoto(ctx context.Context, id int64) (*model.Blob, io.ReadCloser, error) {
	student, err := s.studentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !student.HasPhoto() {
		return nil, nil, ErrNoPhoto
	}

	blob, rc, err := s.blobs.Open(ctx, *student.ProfilePhotoID)
	if errors.Is(err, repository.ErrBlobNotFound) {
		return nil, nil, ErrNoPhoto
	}
	return blob, rc, err
}

// PurgeAllPhotos detaches and synchronously purges every attached photo.
func (s *StudentService) PurgeAllPhotos(ctx context.Context) (int, error) {
	students, err := s.studentRepo.List(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, st := range students {
		if !st.HasPhoto() {
			continue
		}
		previous, err := s.studentRepo.SetProfilePhoto(ctx, st.ID, nil)
		if err != nil {
			return purged, err
		}
		if previous == nil {
			continue
		}
		if err := s.blobs.Purge(ctx, *previous); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// DeleteAll removes every student, scheduling their photos for purge.
func (s *StudentService) DeleteAll(ctx context.Context) (int, error) {
	students, err := s.studentRepo.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, st := range students {
		if err := s.Delete(ctx, st.ID); err != nil && !errors.Is(err, repository.ErrStudentNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// releaseLater enqueues a purge. If the queue is unavailable the blob is
// left unattached and the orphan sweep removes it.
func (s *StudentService) releaseLater(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := s.blobs.PurgeLater(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("blob_id", id.String()).Msg("Purge enqueue failed, leaving blob for the orphan sweep")
	}
}

// discard removes a blob that never got linked.
func (s *StudentService) discard(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := s.blobs.Purge(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("blob_id", id.String()).Msg("Discarding unlinked blob failed")
		s.releaseLater(id)
	}
}

// uploadMessage maps upload rejections to a form message.
func uploadMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, storage.ErrUnsupportedFileType):
		return "profile_photo must be a JPEG, PNG, GIF or WebP image", true
	case errors.Is(err, storage.ErrFileTooLarge):
		return "profile_photo is too large", true
	case errors.Is(err, storage.ErrEmptyFile):
		return "profile_photo is empty", true
	}
	return "", false
}
