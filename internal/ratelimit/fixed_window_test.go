package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return newMemoryStore(time.Minute, clock.Now), clock
}

func TestFixedWindow_AllowsUpToCeiling(t *testing.T) {
	store, clock := newTestStore()
	limiter := NewFixedWindow(store, models.RateLimitTier{Name: "api", Limit: 5, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := limiter.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d: expected to be allowed", i)
		}
		if d.Remaining != 5-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 5-i, d.Remaining)
		}
	}

	d, err := limiter.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("request 6: expected to be rejected")
	}
	if !d.ResetAt.After(clock.Now()) {
		t.Errorf("Expected reset %v to be after now %v", d.ResetAt, clock.Now())
	}
	if d.Tier != "api" || d.Limit != 5 || d.Remaining != 0 {
		t.Errorf("Unexpected decision: %+v", d)
	}
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	store, clock := newTestStore()
	limiter := NewFixedWindow(store, models.RateLimitTier{Name: "auth", Limit: 2, Window: 15 * time.Minute})
	ctx := context.Background()

	limiter.Allow(ctx, "subject")
	limiter.Allow(ctx, "subject")
	if d, _ := limiter.Allow(ctx, "subject"); d.Allowed {
		t.Fatal("Expected third request in window to be rejected")
	}

	clock.Advance(15 * time.Minute)

	d, err := limiter.Allow(ctx, "subject")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !d.Allowed {
		t.Fatal("Expected request after the reset timestamp to be allowed")
	}
	if d.Remaining != 1 {
		t.Errorf("Expected a fresh window, remaining = %d", d.Remaining)
	}
	if want := clock.Now().Add(15 * time.Minute); !d.ResetAt.Equal(want) {
		t.Errorf("Expected reset at %v, got %v", want, d.ResetAt)
	}
}

func TestFixedWindow_SubjectsAreIndependent(t *testing.T) {
	store, _ := newTestStore()
	limiter := NewFixedWindow(store, models.RateLimitTier{Name: "sensitive", Limit: 1, Window: 5 * time.Minute})
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "a"); !d.Allowed {
		t.Error("Expected subject a to be allowed")
	}
	if d, _ := limiter.Allow(ctx, "b"); !d.Allowed {
		t.Error("Expected subject b to be allowed")
	}
	if d, _ := limiter.Allow(ctx, "a"); d.Allowed {
		t.Error("Expected subject a to be rejected on its second request")
	}
}

func TestFixedWindow_ConcurrentRequestsDoNotUnderCount(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	limiter := NewFixedWindow(store, models.RateLimitTier{Name: "api", Limit: 100, Window: time.Hour})
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(ctx, "hot-key")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 100 {
		t.Errorf("Expected exactly 100 allowed requests, got %d", got)
	}
}

func TestKeyLimiter_UsesHourlyCeiling(t *testing.T) {
	store, _ := newTestStore()
	limiter := NewKeyLimiter(store, 3)

	if limiter.Window() != time.Hour || limiter.Limit() != 3 {
		t.Fatalf("Unexpected key limiter: limit=%d window=%v", limiter.Limit(), limiter.Window())
	}

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if d, _ := limiter.Allow(ctx, "key-id"); !d.Allowed {
			t.Fatalf("call %d: expected to be allowed", i)
		}
	}
	d, _ := limiter.Allow(ctx, "key-id")
	if d.Allowed {
		t.Fatal("call 4: expected to be rejected")
	}
	if d.Tier != APIKeyTier {
		t.Errorf("Expected tier %q, got %q", APIKeyTier, d.Tier)
	}
}
