// Package storage keeps profile photo bytes on disk and tracks them as blob
// rows, with synchronous and deferred purge.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Backend stores opaque bytes by key.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is idempotent: a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// LocalDisk is a Backend rooted at a directory. Keys are fanned out into
// two levels of subdirectories (ab/cd/abcd...) to keep directories small.
type LocalDisk struct {
	root string
	log  zerolog.Logger
}

// NewLocalDisk ensures root exists and returns a backend on it.
func NewLocalDisk(root string, log zerolog.Logger) (*LocalDisk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir %s: %w", root, err)
	}
	log.Info().Str("path", abs).Msg("Local blob storage ready")
	return &LocalDisk{root: abs, log: log}, nil
}

func (d *LocalDisk) path(key string) (string, error) {
	if len(key) < 4 || key != filepath.Base(key) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(d.root, key[0:2], key[2:4], key), nil
}

// Put writes data under key, replacing it atomically via rename.
func (d *LocalDisk) Put(_ context.Context, key string, data []byte) error {
	dst, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

// Open returns a reader over the stored bytes.
func (d *LocalDisk) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Delete removes the file and any directories it leaves empty.
func (d *LocalDisk) Delete(_ context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.log.Warn().Str("key", key).Msg("Blob file already gone")
			return nil
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	d.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

func (d *LocalDisk) pruneEmptyDirs(dir string) {
	for dir != d.root && len(dir) > len(d.root) {
		// os.Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
