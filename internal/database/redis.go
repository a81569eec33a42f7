package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/config"
)

// NewRedisClient creates and validates the Redis client backing the
// purge-later queue.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	pending, err := rdb.LLen(ctx, config.WorkerKey.PurgeBlobsQueue).Result()
	if err != nil {
		pending = -1
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int64("pending_purges", pending).
		Msg("Redis connected")

	return rdb, nil
}
