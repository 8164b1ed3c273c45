package aemclient

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter guarding outbound call volume.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a bucket holding maxTokens that regains one token
// every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		maxTokens:  maxTokens,
		tokens:     maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if rl.refillRate > 0 {
		tokensToAdd := int(elapsed / rl.refillRate)
		if tokensToAdd > 0 {
			rl.tokens += tokensToAdd
			if rl.tokens > rl.maxTokens {
				rl.tokens = rl.maxTokens
			}
			rl.lastRefill = now
		}
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the currently available token count.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// RefillRate returns the bucket's refill interval, used as the retry-after
// hint on denials.
func (rl *RateLimiter) RefillRate() time.Duration {
	return rl.refillRate
}

// RateLimiterRegistry holds per-operation limiters with a shared fallback so
// chatty operation classes ("bulk") can be throttled independently of
// interactive ones.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*RateLimiter
	fallback *RateLimiter
}

// NewRateLimiterRegistry creates a registry; fallback may be nil, meaning
// unregistered operations are not limited.
func NewRateLimiterRegistry(fallback *RateLimiter) *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[string]*RateLimiter),
		fallback: fallback,
	}
}

// Register installs a limiter for the operation key.
func (r *RateLimiterRegistry) Register(operation string, limiter *RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[operation] = limiter
}

// Get returns the limiter for operation, or the fallback (possibly nil).
func (r *RateLimiterRegistry) Get(operation string) *RateLimiter {
	r.mu.RLock()
	limiter, ok := r.limiters[operation]
	r.mu.RUnlock()
	if ok {
		return limiter
	}
	return r.fallback
}

// Allow checks the appropriate limiter; operations without one always pass.
func (r *RateLimiterRegistry) Allow(operation string) (bool, *RateLimiter) {
	limiter := r.Get(operation)
	if limiter == nil {
		return true, nil
	}
	return limiter.Allow(), limiter
}
