//go:build testutil

package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/search"
	"github.com/stemsi/student-directory/internal/testutil/testdb"
)

var db *testdb.DBHandle

func TestMain(m *testing.M) {
	h, err := testdb.Start(context.Background())
	if err != nil {
		panic(err)
	}
	db = h
	code := m.Run()
	h.Close()
	os.Exit(code)
}

func reset(t *testing.T) {
	t.Helper()
	if err := db.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func date(s string) *time.Time {
	d, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &d
}

func student(email string, major model.Major, grad string) *model.Student {
	return &model.Student{
		FirstName: "Aaron", LastName: "Sanders", SchoolEmail: email,
		Major: major, GraduationDate: date(grad),
	}
}

func TestStudentCreateGetDelete(t *testing.T) {
	reset(t)
	ctx := context.Background()
	repo := repository.NewStudentRepository(db.Pool)

	s := student("aaron@msudenver.edu", model.MajorComputerScience, "2025-05-15")
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}
	if s.ID == 0 || s.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %+v", s)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SchoolEmail != s.SchoolEmail || got.Major != s.Major || !got.GraduationDate.Equal(*s.GraduationDate) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	deleted, err := repo.Delete(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if deleted.ID != s.ID {
		t.Fatalf("Delete returned %d", deleted.ID)
	}
	if _, err := repo.GetByID(ctx, s.ID); !errors.Is(err, repository.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}
	if _, err := repo.Delete(ctx, s.ID); !errors.Is(err, repository.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound on second delete, got %v", err)
	}
}

func TestStudentConstraints(t *testing.T) {
	reset(t)
	ctx := context.Background()
	repo := repository.NewStudentRepository(db.Pool)

	if err := repo.Create(ctx, student("aaron@msudenver.edu", model.MajorComputerScience, "2025-05-15")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, student("AARON@MSUDENVER.EDU", model.MajorCybersecurity, "2025-05-15")); !errors.Is(err, repository.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if err := repo.Create(ctx, student("bea@msudenver.edu", "Art History", "2025-05-15")); !errors.Is(err, repository.ErrInvalidMajor) {
		t.Fatalf("expected ErrInvalidMajor, got %v", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestConcurrentCreatesSameEmail(t *testing.T) {
	reset(t)
	ctx := context.Background()
	repo := repository.NewStudentRepository(db.Pool)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, student("race@msudenver.edu", model.MajorComputerScience, "2025-05-15"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, repository.ErrDuplicateEmail):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("exactly one create should win, got %d", ok)
	}
}

func TestStudentSearch(t *testing.T) {
	reset(t)
	ctx := context.Background()
	repo := repository.NewStudentRepository(db.Pool)

	a := student("a@msudenver.edu", model.MajorComputerScience, "2025-05-15")
	b := student("b@msudenver.edu", model.MajorDataScienceML, "2026-05-15")
	for _, s := range []*model.Student{a, b} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		params map[string]string
		want   []int64
	}{
		{"empty", map[string]string{}, nil},
		{"major", map[string]string{"major": "Computer Science BS"}, []int64{a.ID}},
		{"before", map[string]string{"graduation_date": "2026-01-01", "date_type": "before"}, []int64{a.ID}},
		{"after", map[string]string{"graduation_date": "2026-01-01", "date_type": "after"}, []int64{a.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Search(ctx, search.FromParams(tt.params))
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d rows, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i].ID != tt.want[i] {
					t.Fatalf("row %d = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestBlobsAndProfilePhoto(t *testing.T) {
	reset(t)
	ctx := context.Background()
	students := repository.NewStudentRepository(db.Pool)
	blobs := repository.NewBlobRepository(db.Pool)

	newBlob := func() *model.Blob {
		id := uuid.New()
		b := &model.Blob{ID: id, Key: id.String(), Filename: "a.png", ContentType: "image/png", ByteSize: 10, Checksum: "x"}
		if err := blobs.Create(ctx, b); err != nil {
			t.Fatal(err)
		}
		return b
	}

	s := student("a@msudenver.edu", model.MajorComputerScience, "2025-05-15")
	if err := students.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	first, second := newBlob(), newBlob()
	prev, err := students.SetProfilePhoto(ctx, s.ID, &first.ID)
	if err != nil || prev != nil {
		t.Fatalf("first attach: prev=%v err=%v", prev, err)
	}
	prev, err = students.SetProfilePhoto(ctx, s.ID, &second.ID)
	if err != nil || prev == nil || *prev != first.ID {
		t.Fatalf("replace: prev=%v err=%v", prev, err)
	}
	if _, err := students.SetProfilePhoto(ctx, 9999, nil); !errors.Is(err, repository.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}

	orphans, err := blobs.ListOrphans(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 1 || orphans[0].ID != first.ID {
		t.Fatalf("expected only the replaced blob as orphan, got %+v", orphans)
	}

	// Deleting the linked blob nulls the reference.
	if err := blobs.Delete(ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	got, err := students.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasPhoto() {
		t.Fatal("profile_photo_id should be cleared by ON DELETE SET NULL")
	}
	if err := blobs.Delete(ctx, second.ID); !errors.Is(err, repository.ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
}
