package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// INCR and the first PEXPIRE run atomically so concurrent instances agree on
// one window per key. Returns {count, ttl_ms}.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Counter store shared by every gateway instance pointing at the same redis
type RedisStore struct {
	redis *storage.RedisClient
	now   func() time.Time
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{
		redis: redis,
		now:   time.Now,
	}
}

func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:fixed:%s", key)

	res, err := r.redis.Run(ctx, incrementScript, []string{redisKey}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	resetAt := r.now().Add(time.Duration(res[1]) * time.Millisecond)
	return res[0], resetAt, nil
}
