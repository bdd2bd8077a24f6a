package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/covenantlabs/covenant/pkg/canonical"
)

// RedisCache backs the resolution cache with Redis so multiple nodes
// serving the same principals see one cache. Values are JSON; keys are
// digest-addressed to keep arbitrary query text out of the keyspace.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. A zero ttl means entries do
// not expire (the engine overwrites them on resubmission).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "covenant:resolution:", ttl: ttl}
}

func (c *RedisCache) key(principal, query string) string {
	return c.prefix + principal + ":" + canonical.DigestBytes([]byte(query))
}

func (c *RedisCache) Get(ctx context.Context, principal, query string) (CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(principal, query)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("resolution: redis get: %w", err)
	}
	var e CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return CacheEntry{}, false, fmt.Errorf("resolution: redis decode: %w", err)
	}
	return e, true, nil
}

func (c *RedisCache) Put(ctx context.Context, principal, query string, e CacheEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("resolution: redis encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(principal, query), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("resolution: redis set: %w", err)
	}
	return nil
}
