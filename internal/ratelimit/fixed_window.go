package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
)

type FixedWindowLimiter struct {
	store CounterStore
	tier  models.RateLimitTier
}

func NewFixedWindow(store CounterStore, tier models.RateLimitTier) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store: store,
		tier:  tier,
	}
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := f.store.Increment(ctx, fmt.Sprintf("%s:%s", f.tier.Name, key), f.tier.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	remaining := f.tier.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(f.tier.Limit),
		Tier:      f.tier.Name,
		Limit:     f.tier.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.tier.Limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.tier.Window
}
