package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/config"
	"github.com/stemsi/student-directory/internal/database"
	"github.com/stemsi/student-directory/internal/handler"
	"github.com/stemsi/student-directory/internal/logger"
	"github.com/stemsi/student-directory/internal/middleware"
	"github.com/stemsi/student-directory/internal/queue"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/router"
	"github.com/stemsi/student-directory/internal/service"
	"github.com/stemsi/student-directory/internal/storage"
	"github.com/stemsi/student-directory/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Student Directory")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Storage ───────────────────────────────────────────────────────
	disk, err := storage.NewLocalDisk(cfg.UploadDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare upload directory")
	}
	purgeQueue := queue.NewRedisPurgeQueue(rdb, config.WorkerKey.PurgeBlobsQueue)

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	blobRepo := repository.NewBlobRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	blobService := storage.NewBlobService(blobRepo, disk, purgeQueue, cfg.MaxUploadBytes, log)
	studentService := service.NewStudentService(studentRepo, blobService, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Student: handler.NewStudentHandler(studentService, log),
		Photo:   handler.NewPhotoHandler(studentService, log),
		Health: handler.NewHealthHandler(purgeQueue, log,
			handler.HealthCheck{Name: "postgres", Check: pool.Ping},
			handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	purgeWorker := worker.NewPurgeWorker(purgeQueue, blobService, log)
	workerDone := make(chan struct{})
	go func() {
		purgeWorker.Start(workerCtx)
		close(workerDone)
	}()

	sweeper := worker.NewOrphanSweeper(blobRepo, blobService, cfg.OrphanGrace, log)
	sweepCron, err := sweeper.Start(workerCtx, cfg.SweepSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule orphan sweep")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(cfg.WriteRateLimit, time.Minute)
	defer limiter.Stop()
	r := router.SetupRouter(handlers, limiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the sweep and let the purge worker drain its queue.
	<-sweepCron.Stop().Done()
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Purge worker did not drain in time; remaining entries stay queued")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
