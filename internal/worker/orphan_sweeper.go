package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/metrics"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/storage"
)

// OrphanSweeper removes blobs no student references. Purges that were lost
// (queue outage, crash between delete and enqueue) end up here.
type OrphanSweeper struct {
	blobs   repository.BlobRepository
	storage *storage.BlobService
	grace   time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewOrphanSweeper creates a sweeper that leaves blobs younger than grace
// alone, since an upload is briefly unattached before it is linked.
func NewOrphanSweeper(blobs repository.BlobRepository, svc *storage.BlobService, grace time.Duration, log zerolog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		blobs:   blobs,
		storage: svc,
		grace:   grace,
		now:     time.Now,
		log:     log.With().Str("component", "orphan_sweeper").Logger(),
	}
}

// Sweep purges every orphan older than the grace period and returns the
// number removed.
func (s *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	orphans, err := s.blobs.ListOrphans(ctx, s.now().Add(-s.grace))
	if err != nil {
		return 0, fmt.Errorf("list orphans: %w", err)
	}

	swept := 0
	for _, b := range orphans {
		if err := s.storage.Purge(ctx, b.ID); err != nil {
			s.log.Error().Err(err).Str("blob_id", b.ID.String()).Msg("Orphan purge failed")
			continue
		}
		swept++
	}

	metrics.OrphansSwept.Add(float64(swept))
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("Orphan blobs swept")
	}
	return swept, nil
}

// Start schedules Sweep on a cron spec. Overlapping runs are skipped. The
// caller stops the returned scheduler on shutdown.
func (s *OrphanSweeper) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("Orphan sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule orphan sweep %q: %w", schedule, err)
	}
	c.Start()
	s.log.Info().Str("schedule", schedule).Dur("grace", s.grace).Msg("Orphan sweep scheduled")
	return c, nil
}
