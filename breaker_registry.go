package aemclient

import "sync"

// DefaultBreakerKey scopes calls that carry no operation context.
const DefaultBreakerKey = "default"

// BreakerRegistry lazily creates and caches one Breaker per operation key so
// independent AEM endpoint classes ("pages", "assets", "publish", "packages",
// "bulk", ...) open and recover independently.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry whose breakers share config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		config:   config.withDefaults(),
	}
}

// Get returns the breaker for key, creating it on first use. An empty key
// maps to DefaultBreakerKey.
func (r *BreakerRegistry) Get(key string) *Breaker {
	if key == "" {
		key = DefaultBreakerKey
	}

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = NewBreaker(key, r.config)
	r.breakers[key] = b
	return b
}

// Reset resets the named breaker; it reports whether the breaker existed.
func (r *BreakerRegistry) Reset(key string) bool {
	if key == "" {
		key = DefaultBreakerKey
	}
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		b.Reset()
	}
	return ok
}

// ResetAll resets every breaker in the registry.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// Stats returns a snapshot of every breaker's record keyed by name.
func (r *BreakerRegistry) Stats() map[string]BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]BreakerStats, len(r.breakers))
	for key, b := range r.breakers {
		stats[key] = b.Stats()
	}
	return stats
}
