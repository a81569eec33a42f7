package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/queue"
	"github.com/stemsi/student-directory/internal/storage"
)

// PurgeWorker consumes the purge queue and releases each blob's bytes and row.
type PurgeWorker struct {
	queue      queue.PurgeQueue
	blobs      *storage.BlobService
	popTimeout time.Duration
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewPurgeWorker creates a new PurgeWorker.
func NewPurgeWorker(q queue.PurgeQueue, blobs *storage.BlobService, log zerolog.Logger) *PurgeWorker {
	return &PurgeWorker{
		queue:      q,
		blobs:      blobs,
		popTimeout: time.Second,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "purge_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *PurgeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.Drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
		}

		if _, err := w.next(ctx, w.popTimeout); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Dur("retry_in", w.retryDelay).Msg("Purge error")
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
		}
	}
}

// ProcessNext purges at most one queued blob without blocking. It reports
// whether an entry was taken off the queue.
func (w *PurgeWorker) ProcessNext(ctx context.Context) (bool, error) {
	return w.next(ctx, 0)
}

// Drain purges everything currently queued and returns how many entries
// were handled. It stops at the first failure, leaving that entry queued.
func (w *PurgeWorker) Drain(ctx context.Context) int {
	drained := 0
	for {
		ok, err := w.ProcessNext(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain purge error")
			break
		}
		if !ok {
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining purges")
	}
	return drained
}

func (w *PurgeWorker) next(ctx context.Context, timeout time.Duration) (bool, error) {
	id, err := w.queue.Pop(ctx, timeout)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}

	if err := w.blobs.Purge(ctx, id); err != nil {
		w.requeue(id)
		return true, err
	}
	return true, nil
}

func (w *PurgeWorker) requeue(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Push(ctx, id); err != nil {
		w.log.Error().Err(err).Str("blob_id", id.String()).Msg("Requeue failed, orphan sweep will collect it")
	}
}
