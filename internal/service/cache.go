package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Caches validated key records by hash in front of the credential store
type KeyCache interface {
	Get(ctx context.Context, hash string) (*models.APIKey, bool)
	Set(ctx context.Context, hash string, key *models.APIKey)
	Invalidate(ctx context.Context, hash string)
}

const keyCacheTTL = 5 * time.Minute

type RedisKeyCache struct {
	redis *storage.RedisClient
	ttl   time.Duration
}

func NewRedisKeyCache(redis *storage.RedisClient) *RedisKeyCache {
	return &RedisKeyCache{redis: redis, ttl: keyCacheTTL}
}

func cacheKey(hash string) string {
	return fmt.Sprintf("apikey:cache:%s", hash)
}

// Cache failures are treated as misses
func (c *RedisKeyCache) Get(ctx context.Context, hash string) (*models.APIKey, bool) {
	cached, err := c.redis.Get(ctx, cacheKey(hash))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("API key cache read failed")
		}
		return nil, false
	}

	var apiKey models.APIKey
	if err := json.Unmarshal([]byte(cached), &apiKey); err != nil {
		return nil, false
	}
	// The hash is never serialized
	apiKey.KeyHash = hash
	return &apiKey, true
}

func (c *RedisKeyCache) Set(ctx context.Context, hash string, key *models.APIKey) {
	data, err := json.Marshal(key)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(hash), data, c.ttl); err != nil {
		log.Warn().Err(err).Msg("API key cache write failed")
	}
}

func (c *RedisKeyCache) Invalidate(ctx context.Context, hash string) {
	if err := c.redis.Del(ctx, cacheKey(hash)); err != nil {
		log.Warn().Err(err).Msg("API key cache invalidation failed")
	}
}
