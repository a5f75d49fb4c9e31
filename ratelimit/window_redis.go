package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Window = (*RedisWindow)(nil)

const (
	maxSortedSetScore = "+inf"
	defaultWindowKey  = "resilient:recent_requests"
)

// RedisWindow keeps the recent-request window in a Redis sorted set so that
// several client processes sharing one API key see the same per-minute count.
// Scores are send instants in milliseconds; members are random UUIDs.
type RedisWindow struct {
	client *redis.Client
	key    string
}

// NewRedisWindow returns a window stored under key. An empty key uses a default.
func NewRedisWindow(client *redis.Client, key string) *RedisWindow {
	if key == "" {
		key = defaultWindowKey
	}
	return &RedisWindow{client: client, key: key}
}

// Record adds at to the set, evicts expired members and refreshes the key's TTL.
func (w *RedisWindow) Record(ctx context.Context, at time.Time) error {
	cutoff := at.Add(-WindowSpan)

	p := w.client.TxPipeline()
	p.ZRemRangeByScore(ctx, w.key, "-inf", strconv.FormatInt(cutoff.UnixMilli(), 10))
	p.ZAdd(ctx, w.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: uuid.NewString(),
	})
	p.Expire(ctx, w.key, WindowSpan)
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("record request in window %s: %w", w.key, err)
	}
	return nil
}

// Count returns the members newer than now-WindowSpan.
func (w *RedisWindow) Count(ctx context.Context, now time.Time) (int, error) {
	lower := "(" + strconv.FormatInt(now.Add(-WindowSpan).UnixMilli(), 10)
	n, err := w.client.ZCount(ctx, w.key, lower, maxSortedSetScore).Result()
	if err != nil {
		return 0, fmt.Errorf("count window %s: %w", w.key, err)
	}
	return int(n), nil
}

// Close releases the underlying client.
func (w *RedisWindow) Close() error {
	return w.client.Close()
}
