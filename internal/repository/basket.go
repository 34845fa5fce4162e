package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"salon/internal/model"
)

// BasketTTL bounds how long an abandoned server-side basket is kept.
const BasketTTL = 7 * 24 * time.Hour

var ErrConflict = errors.New("repository: concurrent update, retries exhausted")

// BasketRepository stores one item list per session. Update runs fn as a
// read-modify-write that no other Update on the same session interleaves with.
type BasketRepository interface {
	Get(ctx context.Context, session string) ([]model.LineItem, error)
	Update(ctx context.Context, session string, fn func([]model.LineItem) ([]model.LineItem, error)) ([]model.LineItem, error)
}

type MemoryBasketRepository struct {
	mu   sync.Mutex
	data map[string][]model.LineItem
}

func NewMemoryBasketRepository() *MemoryBasketRepository {
	return &MemoryBasketRepository{data: make(map[string][]model.LineItem)}
}

func (r *MemoryBasketRepository) Get(ctx context.Context, session string) ([]model.LineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.CloneItems(r.data[session]), nil
}

func (r *MemoryBasketRepository) Update(ctx context.Context, session string, fn func([]model.LineItem) ([]model.LineItem, error)) ([]model.LineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(model.CloneItems(r.data[session]))
	if err != nil {
		return nil, err
	}
	r.data[session] = model.CloneItems(next)
	return next, nil
}

// RedisBasketRepository keeps each basket as a JSON list under basket:<session>.
// Updates use WATCH/MULTI so concurrent writers on one session retry instead of
// overwriting each other.
type RedisBasketRepository struct {
	rdb        *redis.Client
	ttl        time.Duration
	maxRetries int
}

func NewRedisBasketRepository(rdb *redis.Client) *RedisBasketRepository {
	return &RedisBasketRepository{rdb: rdb, ttl: BasketTTL, maxRetries: 5}
}

func basketKey(session string) string { return fmt.Sprintf("basket:%s", session) }

func (r *RedisBasketRepository) Get(ctx context.Context, session string) ([]model.LineItem, error) {
	raw, err := r.rdb.Get(ctx, basketKey(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeBasket(raw)
}

func (r *RedisBasketRepository) Update(ctx context.Context, session string, fn func([]model.LineItem) ([]model.LineItem, error)) ([]model.LineItem, error) {
	key := basketKey(session)
	var out []model.LineItem
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var items []model.LineItem
		if err == nil {
			if items, err = decodeBasket(raw); err != nil {
				return err
			}
		}
		next, err := fn(items)
		if err != nil {
			return err
		}
		b, err := json.Marshal(nonNil(next))
		if err != nil {
			return fmt.Errorf("encode basket: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, r.ttl)
			return nil
		})
		out = next
		return err
	}
	for i := 0; i < r.maxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func decodeBasket(raw []byte) ([]model.LineItem, error) {
	var items []model.LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode basket: %w", err)
	}
	return items, nil
}

func nonNil(items []model.LineItem) []model.LineItem {
	if items == nil {
		return []model.LineItem{}
	}
	return items
}
