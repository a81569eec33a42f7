//go:build testutil

// Package testdb starts a throwaway PostgreSQL in a container with the
// application schema applied.
package testdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/student-directory/internal/database"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DBHandle owns the container and a pool connected to it.
type DBHandle struct {
	Pool *pgxpool.Pool
	URL  string
	stop func(context.Context) error
}

// Close releases the pool and terminates the container.
func (h *DBHandle) Close() {
	if h.Pool != nil {
		h.Pool.Close()
	}
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
}

// Start runs postgres:17-alpine, applies migrations/ and returns a pool.
func Start(ctx context.Context) (*DBHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:17-alpine"),
		postgres.WithDatabase("student_directory"),
		postgres.WithUsername("directory"),
		postgres.WithPassword("directory"),
	)
	if err != nil {
		return nil, err
	}
	terminate := func(ctx context.Context) error { return pg.Terminate(ctx) }

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = terminate(ctx)
		return nil, err
	}

	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		_ = terminate(ctx)
		return nil, err
	}
	if err := waitReady(ctx, pool); err != nil {
		pool.Close()
		_ = terminate(ctx)
		return nil, err
	}

	dir, err := migrationsDir()
	if err != nil {
		pool.Close()
		_ = terminate(ctx)
		return nil, err
	}
	if err := database.MigrateUp(dir, uri); err != nil {
		pool.Close()
		_ = terminate(ctx)
		return nil, err
	}

	return &DBHandle{Pool: pool, URL: uri, stop: terminate}, nil
}

// Reset empties every table between tests.
func (h *DBHandle) Reset(ctx context.Context) error {
	_, err := h.Pool.Exec(ctx, `TRUNCATE students, blobs RESTART IDENTITY CASCADE`)
	return err
}

func waitReady(ctx context.Context, pool *pgxpool.Pool) error {
	var lastErr error
	for {
		if lastErr = pool.Ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready: %w", lastErr)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// migrationsDir walks up from the working directory to the module root.
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above working directory")
		}
		dir = parent
	}
}
