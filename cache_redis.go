package aemclient

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the Cache contract with a shared Redis so multiple client
// processes see the same entries. The cache is a best-effort accelerator: any
// Redis failure degrades to cache-miss behavior instead of failing the
// caller's request.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger Logger

	hits   int64
	misses int64
	sets   int64
	errs   int64
}

// NewRedisCache wraps an existing Redis client. All keys are stored under
// prefix to keep the shared keyspace tidy.
func NewRedisCache(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "aemclient:"
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    defaultTTL,
	}
}

// Get returns the cached value for key, treating redis.Nil and any transport
// failure as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.degraded("get", err)
		}
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return val, true
}

// Set stores value with the given TTL. Failures are logged and dropped.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.degraded("set", err)
		return
	}
	atomic.AddInt64(&c.sets, 1)
}

// Delete removes key if present.
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.degraded("delete", err)
	}
}

// Has reports whether key exists without fetching the value.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		c.degraded("has", err)
		return false
	}
	return n > 0
}

// InvalidatePattern scans for prefixed keys matching the glob and removes
// them, returning the count. Redis MATCH uses the same glob dialect the
// in-memory cache accepts.
func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) int {
	removed := 0
	iter := c.client.Scan(ctx, 0, c.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.degraded("invalidate", err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.degraded("invalidate", err)
	}
	return removed
}

// Stats returns the process-local view of this cache's effectiveness. Entry
// counts live in Redis and are not reported here.
func (c *RedisCache) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Sets:    atomic.LoadInt64(&c.sets),
		HitRate: hitRate,
	}
}

// Close releases the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) degraded(op string, err error) {
	atomic.AddInt64(&c.errs, 1)
	if c.logger != nil {
		c.logger.Warn("redis cache degraded to miss", "op", op, "error", err.Error())
	}
}
