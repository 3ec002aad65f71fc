// Package ratelimit implements the blanket cool-down imposed after the API
// signals throttling (HTTP 429, or a zero remaining-quota header). The pause
// applies to all in-flight work of a run, not to individual requests: the
// shared quota is allowed to fully replenish before the next retry batch.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the pause deadline. The Redis implementation lets
// concurrent export runs against the same organization quota observe each
// other's cool-downs.
type Store interface {
	// SetPause records that no requests should be issued before deadline.
	SetPause(ctx context.Context, deadline time.Time) error

	// PausedUntil returns the current pause deadline. The zero time means
	// no pause is active.
	PausedUntil(ctx context.Context) (time.Time, error)
}

// MemoryStore keeps the pause deadline in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	deadline time.Time
}

// NewMemoryStore creates an in-process pause store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetPause implements Store.
func (s *MemoryStore) SetPause(_ context.Context, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deadline.After(s.deadline) {
		s.deadline = deadline
	}
	return nil
}

// PausedUntil implements Store.
func (s *MemoryStore) PausedUntil(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, nil
}

// RedisKeyPausedUntil is the key holding the shared pause deadline.
const RedisKeyPausedUntil = "boardreport:ratelimit:paused_until"

// RedisStore shares the pause deadline across processes via Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed pause store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// SetPause implements Store. The key expires on its own once the deadline
// has passed so stale state never outlives a cool-down.
func (s *RedisStore) SetPause(ctx context.Context, deadline time.Time) error {
	ttl := time.Until(deadline)
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, RedisKeyPausedUntil, deadline.UnixMilli(), ttl).Err()
}

// PausedUntil implements Store.
func (s *RedisStore) PausedUntil(ctx context.Context) (time.Time, error) {
	millis, err := s.redis.Get(ctx, RedisKeyPausedUntil).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}
