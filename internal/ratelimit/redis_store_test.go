package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(storage.NewRedisFromClient(client)), mr
}

func TestRedisStore_IncrementSetsWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	before := time.Now()
	count, resetAt, err := store.Increment(ctx, "api:10.0.0.1", time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Expected count 1, got %d", count)
	}
	if resetAt.Before(before.Add(59*time.Second)) || resetAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("Unexpected reset time %v", resetAt)
	}
	if ttl := mr.TTL("ratelimit:fixed:api:10.0.0.1"); ttl != time.Minute {
		t.Errorf("Expected key TTL of 1m, got %v", ttl)
	}

	count, _, _ = store.Increment(ctx, "api:10.0.0.1", time.Minute)
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}

func TestRedisStore_WindowExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	limiter := NewFixedWindow(store, models.RateLimitTier{Name: "sensitive", Limit: 3, Window: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d, err := limiter.Allow(ctx, "subject"); err != nil || !d.Allowed {
			t.Fatalf("request %d: decision=%+v err=%v", i+1, d, err)
		}
	}
	if d, _ := limiter.Allow(ctx, "subject"); d.Allowed {
		t.Fatal("Expected fourth request to be rejected")
	}

	mr.FastForward(5 * time.Minute)

	if d, err := limiter.Allow(ctx, "subject"); err != nil || !d.Allowed {
		t.Fatalf("Expected request after window to pass, decision=%+v err=%v", d, err)
	}
}

func TestRedisStore_ErrorWhenUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	if _, _, err := store.Increment(context.Background(), "k", time.Minute); err == nil {
		t.Error("Expected an error when redis is unavailable")
	}
}
