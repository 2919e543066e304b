package ratelimit

import (
	"context"
	"time"
)

// Tracks a request count per subject in fixed windows
type CounterStore interface {
	// Adds one to key's count. A new window of the given length starts when
	// the key has no active window. Returns the count after the increment
	// and the time the current window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// Outcome of a single rate limit check
type Decision struct {
	Allowed   bool
	Tier      string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)

	Limit() int

	Window() time.Duration
}
