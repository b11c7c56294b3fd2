// Package queue holds the orphaned-blob cleanup queue. Blob deletes after a
// committed mutation are best-effort; keys that fail to delete are parked in
// Redis so a retry worker can drain them instead of the failure being lost.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultList = "profilehub:blob-cleanup"

// Deleter removes one blob by storage key.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// CleanupQueue is a Redis-list backed queue of storage keys awaiting delete.
type CleanupQueue struct {
	client *redis.Client
	list   string
}

// NewCleanupQueue connects to Redis and verifies the connection.
func NewCleanupQueue(addr, password, list string) (*CleanupQueue, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	if strings.TrimSpace(list) == "" {
		list = defaultList
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &CleanupQueue{client: client, list: list}, nil
}

// Enqueue parks storage keys for later deletion.
func (q *CleanupQueue) Enqueue(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	values := make([]any, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values = append(values, key)
	}
	if len(values) == 0 {
		return nil
	}
	return q.client.LPush(ctx, q.list, values...).Err()
}

// Len reports the number of parked keys.
func (q *CleanupQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.list).Result()
}

// Drain attempts to delete up to max parked blobs. Keys whose delete still
// fails are re-parked. Returns the number of blobs deleted.
func (q *CleanupQueue) Drain(ctx context.Context, deleter Deleter, max int) (int, error) {
	if max <= 0 {
		max = 100
	}
	deleted := 0
	for i := 0; i < max; i++ {
		key, err := q.client.RPop(ctx, q.list).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return deleted, err
		}
		if derr := deleter.Delete(ctx, key); derr != nil {
			slog.Warn("cleanup delete failed, re-parking", "key", key, "err", derr)
			if perr := q.client.LPush(ctx, q.list, key).Err(); perr != nil {
				return deleted, perr
			}
			// The head key keeps failing; stop rather than spin on it.
			return deleted, nil
		}
		deleted++
	}
	return deleted, nil
}

// Run drains the queue on an interval until the context is cancelled.
func (q *CleanupQueue) Run(ctx context.Context, deleter Deleter, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.Drain(ctx, deleter, 100)
			if err != nil {
				slog.Warn("cleanup drain error", "err", err)
			}
			if n > 0 {
				slog.Info("cleanup drained", "deleted", n)
			}
		}
	}
}
