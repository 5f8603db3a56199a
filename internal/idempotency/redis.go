package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client the store needs.
type RedisClient interface {
	SetArgs(ctx context.Context, key string, value any, a redis.SetArgs) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore is a Store shared by every replica. Inserts use
// SET key value NX GET EX ttl, which stores and reports any prior value in
// one atomic command (Redis 7+).
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewRedisStore wraps client. A non-positive ttl uses DefaultTTL.
func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "idempotency-redis"),
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		return Entry{}, false, nil
	}
	if err != nil {
		s.errors.Add(1)
		return Entry{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.errors.Add(1)
		return Entry{}, false, fmt.Errorf("corrupt idempotency entry %q: %w", key, err)
	}
	s.hits.Add(1)
	return e, true, nil
}

// PutIfAbsent implements Store.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, entry Entry) (Entry, bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to encode idempotency entry: %w", err)
	}

	prev, err := s.client.SetArgs(ctx, key, data, redis.SetArgs{
		Mode: "NX",
		TTL:  s.ttl,
		Get:  true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return entry, true, nil
	}
	if err != nil {
		s.errors.Add(1)
		return Entry{}, false, fmt.Errorf("redis set nx %q: %w", key, err)
	}

	var winner Entry
	if err := json.Unmarshal([]byte(prev), &winner); err != nil {
		s.errors.Add(1)
		return Entry{}, false, fmt.Errorf("corrupt idempotency entry %q: %w", key, err)
	}
	s.logger.DebugContext(ctx, "idempotency key already held", "key", key)
	return winner, false, nil
}

// Stats holds lookup counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Errors  int64
	HitRate float64
}

// Stats returns the current counters.
func (s *RedisStore) Stats() Stats {
	hits, misses := s.hits.Load(), s.misses.Load()
	st := Stats{Hits: hits, Misses: misses, Errors: s.errors.Load()}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
