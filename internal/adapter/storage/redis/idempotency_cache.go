package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stk-push-gateway/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

const inFlightMarker = "IN_PROGRESS"

// IdempotencyCache stores push results under the caller's Idempotency-Key.
// A separate lock key marks a push that is still talking to the provider.
type IdempotencyCache struct {
	client *goredis.Client
	prefix string
}

var _ ports.IdempotencyCache = (*IdempotencyCache)(nil)

func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: keyPrefix + "push:",
	}
}

// Get returns the cached push result, or nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	return val, nil
}

func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}

// Reserve takes the in-flight lock with SET NX. The TTL bounds how long a crashed
// request can block retries.
func (c *IdempotencyCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.lockKey(key), inFlightMarker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis idempotency reserve: %w", err)
	}
	return ok, nil
}

func (c *IdempotencyCache) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis idempotency release: %w", err)
	}
	return nil
}

func (c *IdempotencyCache) lockKey(key string) string {
	return c.prefix + key + ":lock"
}
