package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"github.com/stemsi/student-directory/internal/config"
	"github.com/stemsi/student-directory/internal/database"
	"github.com/stemsi/student-directory/internal/logger"
	"github.com/stemsi/student-directory/internal/queue"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/service"
	"github.com/stemsi/student-directory/internal/storage"
	"github.com/stemsi/student-directory/internal/worker"
)

func main() {
	count := flag.Int("count", 50, "Number of students to create")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for majors and graduation dates")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	disk, err := storage.NewLocalDisk(cfg.UploadDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare upload directory")
	}

	blobRepo := repository.NewBlobRepository(pool)
	blobService := storage.NewBlobService(blobRepo, disk,
		queue.NewRedisPurgeQueue(rdb, config.WorkerKey.PurgeBlobsQueue), cfg.MaxUploadBytes, log)
	studentService := service.NewStudentService(repository.NewStudentRepository(pool), blobService, log)
	// Grace 0: nothing else is uploading while the seeder runs.
	sweeper := worker.NewOrphanSweeper(blobRepo, blobService, 0, log)

	s := &seeder{
		students: studentService,
		sweeper:  sweeper,
		rng:      rand.New(rand.NewSource(*seed)),
		now:      time.Now(),
		log:      log,
	}
	if err := s.run(ctx, *count); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}
}
