package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/config"
	"github.com/stemsi/student-directory/internal/metrics"
)

// connectAttempts bounds how long startup waits for PostgreSQL to accept
// connections (useful under docker-compose where the app races the db).
const connectAttempts = 5

// NewPostgresPool creates and validates a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pingWithRetry(ctx, pool, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", cfg.MaxDBConns).
		Str("database", poolCfg.ConnConfig.Database).
		Msg("PostgreSQL connected")

	return pool, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		start := time.Now()
		if err = pool.Ping(ctx); err == nil {
			metrics.ObserveDBPing(time.Since(start))
			return nil
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("PostgreSQL not ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return err
}
