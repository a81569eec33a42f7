package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/service"
	"github.com/stemsi/student-directory/internal/worker"
)

// seeder resets the directory to a known set of sample students.
type seeder struct {
	students *service.StudentService
	sweeper  *worker.OrphanSweeper
	rng      *rand.Rand
	now      time.Time
	log      zerolog.Logger
}

func (s *seeder) run(ctx context.Context, count int) error {
	purged, err := s.students.PurgeAllPhotos(ctx)
	if err != nil {
		return fmt.Errorf("purge photos: %w", err)
	}
	swept, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep orphans: %w", err)
	}
	deleted, err := s.students.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("delete students: %w", err)
	}
	s.log.Info().
		Int("photos_purged", purged).
		Int("orphans_swept", swept).
		Int("students_deleted", deleted).
		Msg("Directory cleared")

	for i := 1; i <= count; i++ {
		form := model.StudentForm{
			FirstName:      fmt.Sprintf("First %d", i),
			LastName:       fmt.Sprintf("Last %d", i),
			SchoolEmail:    fmt.Sprintf("student%d@msudenver.edu", i),
			Major:          model.Majors[s.rng.Intn(len(model.Majors))],
			GraduationDate: s.graduationDate().Format(model.DateLayout),
		}
		if _, err := s.students.Create(ctx, form, nil); err != nil {
			return fmt.Errorf("create student %d: %w", i, err)
		}
	}

	s.log.Info().Int("count", count).Msg("Students created")
	return nil
}

// graduationDate picks a day between two years ago and two years from now.
func (s *seeder) graduationDate() time.Time {
	today := time.Date(s.now.Year(), s.now.Month(), s.now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(-2, 0, 0)
	to := today.AddDate(2, 0, 0)
	days := int(to.Sub(from).Hours() / 24)
	return from.AddDate(0, 0, s.rng.Intn(days+1))
}
