package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const roleCacheKey = "userRole"

// RedisRoleCache stores the resolved role in Redis, optionally scoped to a
// single actor so multiple resolvers can share one client.
type RedisRoleCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisRoleCache constructs a cache. An empty scope uses the bare key.
func NewRedisRoleCache(client *redis.Client, scope string, ttl time.Duration) *RedisRoleCache {
	key := roleCacheKey
	if scope != "" {
		key = roleCacheKey + ":" + scope
	}
	return &RedisRoleCache{client: client, key: key, ttl: ttl}
}

// Get returns the cached role string or ErrCacheMiss.
func (c *RedisRoleCache) Get(ctx context.Context) (string, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

// Set stores the role string.
func (c *RedisRoleCache) Set(ctx context.Context, role string) error {
	return c.client.Set(ctx, c.key, role, c.ttl).Err()
}

// Del removes the cached role.
func (c *RedisRoleCache) Del(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
