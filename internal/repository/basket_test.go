package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"salon/internal/model"
)

func addOne(li model.LineItem) func([]model.LineItem) ([]model.LineItem, error) {
	return func(items []model.LineItem) ([]model.LineItem, error) {
		for i := range items {
			if items[i].Key() == li.Key() {
				items[i].Quantity++
				return items, nil
			}
		}
		li.Quantity = 1
		return append(items, li), nil
	}
}

func basketRepoContract(t *testing.T, repo BasketRepository, session string) {
	t.Helper()
	ctx := context.Background()
	got, err := repo.Get(ctx, session)
	if err != nil || len(got) != 0 {
		t.Fatalf("fresh session: %+v %v", got, err)
	}

	wig := model.LineItem{ID: "prod_1", Type: model.Product, Price: 3500, Name: "Wig"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Update(ctx, session, addOne(wig)); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err = repo.Get(ctx, session)
	if err != nil || len(got) != 1 || got[0].Quantity != 10 {
		t.Fatalf("lost concurrent updates: %+v %v", got, err)
	}

	boom := errors.New("not found")
	if _, err := repo.Update(ctx, session, func([]model.LineItem) ([]model.LineItem, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("fn error not propagated: %v", err)
	}
	got, _ = repo.Get(ctx, session)
	if len(got) != 1 {
		t.Fatalf("failed update must not write: %+v", got)
	}
}

func TestMemoryBasketRepository(t *testing.T) {
	basketRepoContract(t, NewMemoryBasketRepository(), "s1")
}

func TestRedisBasketRepository(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	session := "test-" + time.Now().Format("150405.000000")
	defer rdb.Del(context.Background(), basketKey(session))
	basketRepoContract(t, NewRedisBasketRepository(rdb), session)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if _, fresh, _ := s.Reserve(ctx, "k"); !fresh {
		t.Fatalf("first reserve should be fresh")
	}
	if id, fresh, _ := s.Reserve(ctx, "k"); fresh || id != "" {
		t.Fatalf("in-flight key: id=%q fresh=%v", id, fresh)
	}
	_ = s.Complete(ctx, "k", "ord_1")
	if id, fresh, _ := s.Reserve(ctx, "k"); fresh || id != "ord_1" {
		t.Fatalf("completed key: id=%q fresh=%v", id, fresh)
	}

	now = now.Add(IdempotencyTTL + time.Second)
	if _, fresh, _ := s.Reserve(ctx, "k"); !fresh {
		t.Fatalf("expired key should be fresh again")
	}
	_ = s.Release(ctx, "k")
	if _, fresh, _ := s.Reserve(ctx, "k"); !fresh {
		t.Fatalf("released key should be fresh")
	}
}
