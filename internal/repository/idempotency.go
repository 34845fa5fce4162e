package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const IdempotencyTTL = 24 * time.Hour

// IdempotencyStore remembers which order id an Idempotency-Key produced.
// Reserve returns ("", true) for a first use. For a repeat it returns the
// stored order id, or "" while the first request is still in flight.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (existing string, fresh bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

const pending = "pending"

type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: IdempotencyTTL}
}

func idemKey(key string) string { return fmt.Sprintf("idempotent-key:%s", key) }

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, idemKey(key), pending, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return "", true, nil
	}
	val, err := s.rdb.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return s.Reserve(ctx, key)
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	if val == pending {
		return "", false, nil
	}
	return val, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.rdb.Set(ctx, idemKey(key), orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, idemKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	now  func() time.Time
	ttl  time.Duration
	keys map[string]idemEntry
}

type idemEntry struct {
	val     string
	expires time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{now: time.Now, ttl: IdempotencyTTL, keys: make(map[string]idemEntry)}
}

func (s *MemoryIdempotencyStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.keys[key]
	if !ok || s.now().After(e.expires) {
		s.keys[key] = idemEntry{val: pending, expires: s.now().Add(s.ttl)}
		return "", true, nil
	}
	if e.val == pending {
		return "", false, nil
	}
	return e.val, false, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = idemEntry{val: orderID, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
