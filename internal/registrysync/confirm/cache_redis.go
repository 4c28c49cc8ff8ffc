package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStatusCache caches registry pull-back statuses in Redis with a TTL,
// so back-to-back polls reuse the last answer instead of re-querying the
// registry.
type RedisStatusCache struct {
	client   *redis.Client
	registry string
	ttl      time.Duration
}

// NewRedisStatusCache constructs a Redis-backed status cache scoped to one
// registry.
func NewRedisStatusCache(client *redis.Client, registry string, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{client: client, registry: registry, ttl: ttl}
}

func (c *RedisStatusCache) key(externalID string) string {
	return fmt.Sprintf("confirm:%s:%s", c.registry, externalID)
}

func (c *RedisStatusCache) Get(ctx context.Context, externalID string) (string, error) {
	status, err := c.client.Get(ctx, c.key(externalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("read status cache: %w", err)
	}
	return status, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, externalID, status string) error {
	if err := c.client.Set(ctx, c.key(externalID), status, c.ttl).Err(); err != nil {
		return fmt.Errorf("write status cache: %w", err)
	}
	return nil
}
