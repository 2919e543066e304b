package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
)

// Builds the counter store for the configured backend
func NewCounterStore(backend string, redis *storage.RedisClient, cleanupInterval time.Duration) (CounterStore, error) {
	switch backend {
	case "memory", "":
		store := NewMemoryStore(cleanupInterval)
		store.Start()
		return store, nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis rate limit backend requires a redis connection")
		}
		return NewRedisStore(redis), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", backend)
	}
}

// Builds a limiter for a named tier
func NewLimiter(store CounterStore, tier models.RateLimitTier) Limiter {
	return NewFixedWindow(store, tier)
}

// Name of the synthetic tier used for per-key ceilings
const APIKeyTier = "api_key"

// Builds the limiter for an API key's own ceiling over a rolling hour
func NewKeyLimiter(store CounterStore, requestsPerHour int) Limiter {
	return NewFixedWindow(store, models.RateLimitTier{
		Name:   APIKeyTier,
		Limit:  requestsPerHour,
		Window: time.Hour,
	})
}
