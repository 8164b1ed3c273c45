package aemclient

import (
	"sync/atomic"
	"time"
)

// ClientStats is the structured snapshot returned by Client.Stats for
// health-check and diagnostics collaborators.
type ClientStats struct {
	Breakers       map[string]BreakerStats `json:"breakers"`
	Cache          *CacheStats             `json:"cache,omitempty"`
	Requests       int64                   `json:"requests"`
	Failures       int64                   `json:"failures"`
	CacheHits      int64                   `json:"cacheHits"`
	TokenRefreshes int64                   `json:"tokenRefreshes"`
	Uptime         time.Duration           `json:"uptime"`
}

// counters tracks process-local performance counters independent of the
// optional Prometheus collector.
type counters struct {
	requests  int64
	failures  int64
	cacheHits int64
}

func (c *counters) request()  { atomic.AddInt64(&c.requests, 1) }
func (c *counters) failure()  { atomic.AddInt64(&c.failures, 1) }
func (c *counters) cacheHit() { atomic.AddInt64(&c.cacheHits, 1) }

// Stats returns a point-in-time snapshot of breaker, cache and request
// counters.
func (c *Client) Stats() ClientStats {
	stats := ClientStats{
		Breakers:  c.breakers.Stats(),
		Requests:  atomic.LoadInt64(&c.counters.requests),
		Failures:  atomic.LoadInt64(&c.counters.failures),
		CacheHits: atomic.LoadInt64(&c.counters.cacheHits),
		Uptime:    time.Since(c.startedAt),
	}
	if c.cache != nil {
		cs := c.cache.Stats()
		stats.Cache = &cs
	}
	if c.tokens != nil {
		stats.TokenRefreshes = c.tokens.Refreshes()
	}
	return stats
}
