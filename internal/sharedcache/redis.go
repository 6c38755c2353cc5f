// Package sharedcache is the Redis tier behind the in-process retrieval
// cache. Replicas of the service share formatted retrieval results so a
// question answered by one instance is a cache hit on the others.
package sharedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix namespaces every key written by this package.
	KeyPrefix = "zudu:ctx:"

	// DefaultTTL is how long an entry lives in Redis.
	DefaultTTL = 24 * time.Hour

	// scanBatch is the COUNT hint used while invalidating.
	scanBatch = 500
)

// Config holds Redis connection settings.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string
	// TTL is the entry lifetime. Zero means DefaultTTL.
	TTL time.Duration
}

// RedisCache implements retrieval.SharedCache.
type RedisCache struct {
	// client is the Redis connection.
	client redis.UniversalClient
	// ttl is applied to every Set.
	ttl time.Duration
}

// New parses cfg.URL and returns a connected cache. The connection is
// verified with PING.
func New(ctx context.Context, cfg Config) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sharedcache: parse url: %w", err)
	}
	c := NewWithClient(redis.NewClient(opts), cfg.TTL)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Key returns the Redis key for query.
func Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached context for query. A missing key is reported as ("", false, nil).
func (c *RedisCache) Get(ctx context.Context, query string) (string, bool, error) {
	v, err := c.client.Get(ctx, Key(query)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sharedcache: get: %w", err)
	}
	return v, true, nil
}

// Set stores value for query with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, query, value string) error {
	if err := c.client.Set(ctx, Key(query), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("sharedcache: set: %w", err)
	}
	return nil
}

// Invalidate deletes every key under KeyPrefix and returns how many were
// removed. It walks the keyspace with SCAN, so entries written concurrently
// may survive.
func (c *RedisCache) Invalidate(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, KeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("sharedcache: scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("sharedcache: unlink: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("sharedcache: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
