package aemclient

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableRedis returns a client whose every command fails fast, for
// exercising the degrade-to-miss contract without a server.
func unreachableRedis() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		ReadTimeout:     50 * time.Millisecond,
		WriteTimeout:    50 * time.Millisecond,
		MaxRetries:      -1,
		PoolTimeout:     50 * time.Millisecond,
		MinIdleConns:    0,
		ConnMaxIdleTime: time.Second,
	})
}

func TestRedisCacheDegradesToMissWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCache(unreachableRedis(), "test:", time.Minute)
	defer c.Close()

	if _, ok := c.Get(ctx, "key"); ok {
		t.Error("expected miss when Redis is unreachable")
	}

	// Writes and deletes must swallow the failure rather than surface it.
	c.Set(ctx, "key", []byte("value"), time.Minute)
	c.Delete(ctx, "key")

	if c.Has(ctx, "key") {
		t.Error("expected Has false when Redis is unreachable")
	}
	if removed := c.InvalidatePattern(ctx, "GET:*"); removed != 0 {
		t.Errorf("expected 0 invalidated, got %d", removed)
	}
}

func TestRedisCacheStatsCountDegradedCalls(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCache(unreachableRedis(), "test:", time.Minute)
	defer c.Close()

	c.Get(ctx, "a")
	c.Get(ctx, "b")

	stats := c.Stats()
	if stats.Misses != 2 {
		t.Errorf("expected 2 misses, got %d", stats.Misses)
	}
	if stats.Hits != 0 {
		t.Errorf("expected 0 hits, got %d", stats.Hits)
	}
}

func TestRedisCacheDefaultPrefixAndTTL(t *testing.T) {
	c := NewRedisCache(unreachableRedis(), "", 0)
	defer c.Close()

	if c.prefix != "aemclient:" {
		t.Errorf("expected default prefix, got %q", c.prefix)
	}
	if c.ttl != DefaultCacheTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultCacheTTL, c.ttl)
	}
}

func TestRedisCacheLogsDegradation(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCache(unreachableRedis(), "test:", time.Minute)
	defer c.Close()

	logger := &captureLogger{}
	c.logger = logger

	c.Get(ctx, "key")
	if len(logger.warns) == 0 {
		t.Error("expected a degradation warning to be logged")
	}
}
