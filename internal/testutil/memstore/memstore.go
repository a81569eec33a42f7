// Package memstore provides in-memory implementations of the repositories and
// the purge queue for handler, service and worker tests. They reproduce the
// database constraints the application relies on.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/queue"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/search"
)

// Store holds students and blobs behind one lock, mirroring the foreign key
// between them.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	students map[int64]model.Student
	blobs    map[uuid.UUID]model.Blob
}

// New returns an empty store.
func New() *Store {
	return &Store{
		students: make(map[int64]model.Student),
		blobs:    make(map[uuid.UUID]model.Blob),
	}
}

// Students returns the store as a StudentRepository.
func (s *Store) Students() repository.StudentRepository { return studentRepo{s} }

// Blobs returns the store as a BlobRepository.
func (s *Store) Blobs() repository.BlobRepository { return blobRepo{s} }

type studentRepo struct{ s *Store }

func (r studentRepo) Create(_ context.Context, st *model.Student) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !st.Major.Valid() {
		return repository.ErrInvalidMajor
	}
	for _, existing := range r.s.students {
		if strings.EqualFold(existing.SchoolEmail, st.SchoolEmail) {
			return repository.ErrDuplicateEmail
		}
	}

	r.s.nextID++
	now := time.Now()
	st.ID = r.s.nextID
	st.CreatedAt = now
	st.UpdatedAt = now
	r.s.students[st.ID] = *st
	return nil
}

func (r studentRepo) GetByID(_ context.Context, id int64) (*model.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.students[id]
	if !ok {
		return nil, repository.ErrStudentNotFound
	}
	return &st, nil
}

func (r studentRepo) Delete(_ context.Context, id int64) (*model.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.students[id]
	if !ok {
		return nil, repository.ErrStudentNotFound
	}
	delete(r.s.students, id)
	return &st, nil
}

func (r studentRepo) List(_ context.Context) ([]model.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedLocked(func(*model.Student) bool { return true }), nil
}

func (r studentRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.students), nil
}

func (r studentRepo) Search(_ context.Context, c search.Criteria) ([]model.Student, error) {
	if c.Empty() {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedLocked(c.Match), nil
}

func (r studentRepo) SetProfilePhoto(_ context.Context, id int64, blobID *uuid.UUID) (*uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.students[id]
	if !ok {
		return nil, repository.ErrStudentNotFound
	}
	previous := st.ProfilePhotoID
	st.ProfilePhotoID = blobID
	st.UpdatedAt = time.Now()
	r.s.students[id] = st
	return previous, nil
}

func (s *Store) sortedLocked(keep func(*model.Student) bool) []model.Student {
	var out []model.Student
	for _, st := range s.students {
		st := st
		if keep(&st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
	return out
}

type blobRepo struct{ s *Store }

func (r blobRepo) Create(_ context.Context, b *model.Blob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	r.s.blobs[b.ID] = *b
	return nil
}

func (r blobRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Blob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.blobs[id]
	if !ok {
		return nil, repository.ErrBlobNotFound
	}
	return &b, nil
}

func (r blobRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.blobs[id]; !ok {
		return repository.ErrBlobNotFound
	}
	delete(r.s.blobs, id)
	// ON DELETE SET NULL
	for sid, st := range r.s.students {
		if st.ProfilePhotoID != nil && *st.ProfilePhotoID == id {
			st.ProfilePhotoID = nil
			r.s.students[sid] = st
		}
	}
	return nil
}

func (r blobRepo) ListOrphans(_ context.Context, createdBefore time.Time) ([]model.Blob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	referenced := make(map[uuid.UUID]bool)
	for _, st := range r.s.students {
		if st.ProfilePhotoID != nil {
			referenced[*st.ProfilePhotoID] = true
		}
	}

	var out []model.Blob
	for id, b := range r.s.blobs {
		if !referenced[id] && b.CreatedAt.Before(createdBefore) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// BlobCount reports how many blob rows exist.
func (s *Store) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// Queue is an in-memory PurgeQueue. Pop never blocks.
type Queue struct {
	mu    sync.Mutex
	items []uuid.UUID
}

// NewQueue returns an empty queue.
func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Push(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, id)
	return nil
}

func (q *Queue) Pop(_ context.Context, _ time.Duration) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return uuid.Nil, queue.ErrEmpty
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, nil
}

func (q *Queue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
