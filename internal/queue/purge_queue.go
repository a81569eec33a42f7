// Package queue holds the purge-later work queue: blob IDs whose bytes and
// metadata should be released by a background worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// PurgeQueue is a FIFO of blob IDs awaiting purge.
type PurgeQueue interface {
	Push(ctx context.Context, blobID uuid.UUID) error
	// Pop blocks up to timeout for the next ID. A timeout <= 0 does not block.
	Pop(ctx context.Context, timeout time.Duration) (uuid.UUID, error)
	Len(ctx context.Context) (int64, error)
}

// RedisPurgeQueue stores the queue in a Redis list (RPUSH / BLPOP).
type RedisPurgeQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisPurgeQueue creates a queue on the given list key.
func NewRedisPurgeQueue(rdb *redis.Client, key string) *RedisPurgeQueue {
	return &RedisPurgeQueue{rdb: rdb, key: key}
}

func (q *RedisPurgeQueue) Push(ctx context.Context, blobID uuid.UUID) error {
	return q.rdb.RPush(ctx, q.key, blobID.String()).Err()
}

func (q *RedisPurgeQueue) Pop(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	var raw string
	if timeout <= 0 {
		v, err := q.rdb.LPop(ctx, q.key).Result()
		if err != nil {
			return uuid.Nil, mapRedisErr(err)
		}
		raw = v
	} else {
		// BLPOP needs a timeout of at least one second.
		if timeout < time.Second {
			timeout = time.Second
		}
		result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
		if err != nil {
			return uuid.Nil, mapRedisErr(err)
		}
		if len(result) < 2 {
			return uuid.Nil, ErrEmpty
		}
		raw = result[1]
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed purge entry %q: %w", raw, err)
	}
	return id, nil
}

func (q *RedisPurgeQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

func mapRedisErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrEmpty
	}
	return err
}
