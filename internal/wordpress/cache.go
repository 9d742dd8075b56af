package wordpress

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a read-through cache for API responses.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// RedisCache caches responses in redis with a fixed TTL. Cache failures
// are swallowed: a broken cache degrades to direct API calls.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, "wp:"+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, key, value string) {
	r.client.Set(ctx, "wp:"+key, value, r.ttl)
}
