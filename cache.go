package aemclient

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// cacheEntry is owned exclusively by the cache; callers never see it.
type cacheEntry struct {
	value       []byte
	createdAt   time.Time
	ttl         time.Duration
	accessCount int64
	lastAccess  time.Time
}

func (e *cacheEntry) expiresAt() time.Time {
	return e.createdAt.Add(e.ttl)
}

// expired treats the deadline itself as expired, so a value cached with
// ttl t is already a miss at exactly creation+t.
func (e *cacheEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt())
}

// MemoryCache is the in-process Cache: a capacity-bounded map with a
// configurable eviction policy and a background sweep that removes expired
// entries. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	store   map[string]*cacheEntry
	policy  EvictionPolicy
	maxSize int
	ttl     time.Duration

	hits        int64
	misses      int64
	sets        int64
	evictions   int64
	expirations int64

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

const (
	// DefaultCacheCapacity bounds MemoryCache when no capacity is given.
	DefaultCacheCapacity = 1000
	// DefaultCacheTTL applies when Set is called with ttl <= 0.
	DefaultCacheTTL = 5 * time.Minute
	// evictBatchFraction is the share of entries discarded per eviction
	// pass once the cache is full.
	evictBatchFraction = 0.10

	sweepInterval = time.Minute
)

// NewMemoryCache creates an in-memory cache with the given capacity, eviction
// policy and default TTL, and starts its expiry sweeper. Call Close to stop
// the sweeper.
func NewMemoryCache(capacity int, policy EvictionPolicy, defaultTTL time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	c := &MemoryCache{
		store:   make(map[string]*cacheEntry),
		policy:  policy,
		maxSize: capacity,
		ttl:     defaultTTL,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go c.sweep()
	return c
}

// Get returns the cached value for key. An expired entry counts as a miss
// and is removed. Hits update the entry's access count and time.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if entry.expired(c.now()) {
		delete(c.store, key)
		atomic.AddInt64(&c.expirations, 1)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	entry.accessCount++
	entry.lastAccess = c.now()
	atomic.AddInt64(&c.hits, 1)
	return entry.value, true
}

// Set stores value under key. When the cache is full and key is new, roughly
// 10% of entries are evicted by policy first.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxSize {
		c.evictLocked()
	}

	now := c.now()
	c.store[key] = &cacheEntry{
		value:       value,
		createdAt:   now,
		ttl:         ttl,
		accessCount: 0,
		lastAccess:  now,
	}
	atomic.AddInt64(&c.sets, 1)
}

// Delete removes key if present.
func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// Has reports whether key holds an unexpired entry, without touching access
// statistics.
func (c *MemoryCache) Has(_ context.Context, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.store[key]
	return ok && !entry.expired(c.now())
}

// InvalidatePattern removes all keys matching the glob and returns the count.
// The glob dialect is the Redis MATCH one, so `*` crosses `/` and a pattern
// like "GET:*" covers fingerprints such as "GET:/content/site.json".
func (c *MemoryCache) InvalidatePattern(_ context.Context, pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.store {
		if globMatch(pattern, key) {
			delete(c.store, key)
			removed++
		}
	}
	return removed
}

// globMatch matches key against pattern where `*` matches any run of
// characters including `/` and `?` matches exactly one. This keeps the
// in-memory dialect identical to the SCAN MATCH dialect RedisCache uses.
func globMatch(pattern, key string) bool {
	pi, ki := 0, 0
	star, mark := -1, 0
	for ki < len(key) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == key[ki]):
			pi++
			ki++
		case pi < len(pattern) && pattern[pi] == '*':
			star, mark = pi, ki
			pi++
		case star >= 0:
			mark++
			pi, ki = star+1, mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// Stats returns a snapshot of the cache counters and running hit rate.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.store)
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return CacheStats{
		Hits:        hits,
		Misses:      misses,
		Sets:        atomic.LoadInt64(&c.sets),
		Evictions:   atomic.LoadInt64(&c.evictions),
		Expirations: atomic.LoadInt64(&c.expirations),
		Entries:     entries,
		Capacity:    c.maxSize,
		HitRate:     hitRate,
	}
}

// Close stops the background sweeper.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// evictLocked discards ~10% of entries ranked by the configured policy.
// Called with c.mu held.
func (c *MemoryCache) evictLocked() {
	batch := int(float64(c.maxSize) * evictBatchFraction)
	if batch < 1 {
		batch = 1
	}

	type ranked struct {
		key   string
		entry *cacheEntry
	}
	candidates := make([]ranked, 0, len(c.store))
	for key, entry := range c.store {
		candidates = append(candidates, ranked{key, entry})
	}

	switch c.policy {
	case EvictLFU:
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].entry.accessCount < candidates[j].entry.accessCount
		})
	case EvictTTL:
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].entry.expiresAt().Before(candidates[j].entry.expiresAt())
		})
	default: // EvictLRU
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].entry.lastAccess.Before(candidates[j].entry.lastAccess)
		})
	}

	for i := 0; i < batch && i < len(candidates); i++ {
		delete(c.store, candidates[i].key)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// sweep periodically removes entries past their TTL regardless of eviction
// pressure.
func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.store {
		if entry.expired(now) {
			delete(c.store, key)
			atomic.AddInt64(&c.expirations, 1)
		}
	}
}
