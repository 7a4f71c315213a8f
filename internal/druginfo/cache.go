package druginfo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long a lookup is reused.
const DefaultCacheTTL = 24 * time.Hour

// RedisCache stores drug lookups as JSON strings.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCache creates a cache. A non-positive ttl uses DefaultCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{redis: client, ttl: ttl}
}

func (c *RedisCache) key(name string) string {
	return "druginfo:" + CacheKey(name)
}

// Get returns the cached record for name.
func (c *RedisCache) Get(ctx context.Context, name string) (*DrugInfo, bool, error) {
	data, err := c.redis.Get(ctx, c.key(name)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get drug info: %w", err)
	}

	var info DrugInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false, nil
	}
	return &info, true, nil
}

// Set stores info under name.
func (c *RedisCache) Set(ctx context.Context, name string, info *DrugInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal drug info: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(name), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set drug info: %w", err)
	}
	return nil
}
