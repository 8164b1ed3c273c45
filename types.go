package aemclient

import (
	"context"
	"encoding/json"
	"time"
)

// CallContext tags a request with the logical operation and resource it acts
// on. The operation key scopes circuit breaker and rate limiter state and
// labels metrics and log lines.
type CallContext struct {
	Operation string
	Resource  string
}

// RequestOptions carries the per-call configuration recognized by the
// orchestrator. A nil *RequestOptions means DefaultRequestOptions(). Options
// are read once when the call is issued and never mutated afterwards.
type RequestOptions struct {
	// Timeout overrides the per-attempt deadline from the retry policy.
	Timeout time.Duration
	// Retries overrides the policy's attempt count when > 0.
	Retries int
	// Cache enables response caching for read methods.
	Cache bool
	// CacheTTL overrides the cache's default TTL when > 0.
	CacheTTL time.Duration
	// CircuitBreaker routes the call through the breaker for
	// Context.Operation.
	CircuitBreaker bool
	// Context tags the call for breaker/limiter scoping, metrics and logs.
	Context CallContext
	// Headers are extra transport headers merged over the auth headers.
	Headers map[string]string
	// Fallback, when set, runs once after retries are exhausted; its bytes
	// become the envelope payload on success.
	Fallback func(ctx context.Context) ([]byte, error)
}

// DefaultRequestOptions returns the options applied when a caller passes nil:
// circuit breaking on, caching off, policy defaults for everything else.
func DefaultRequestOptions() *RequestOptions {
	return &RequestOptions{
		CircuitBreaker: true,
	}
}

// Response is the uniform envelope returned by every orchestrated call.
// Expected failures are reported through Error; the methods on Client never
// return a Go error for them.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ClientError    `json:"error,omitempty"`
	Meta    ResponseMeta    `json:"meta"`
}

// ResponseMeta carries call diagnostics for logging and callers.
type ResponseMeta struct {
	Timestamp     time.Time     `json:"timestamp"`
	CorrelationID string        `json:"correlationId"`
	Duration      time.Duration `json:"duration"`
	Cached        bool          `json:"cached"`
	Coalesced     bool          `json:"coalesced,omitempty"`
	FallbackUsed  bool          `json:"fallbackUsed,omitempty"`
	Attempts      int           `json:"attempts"`
	StatusCode    int           `json:"statusCode,omitempty"`
	Operation     string        `json:"operation,omitempty"`
}

// Cache is the contract shared by the in-memory and Redis-backed caches. The
// cache stores opaque payload bytes keyed by request fingerprint and knows
// nothing about HTTP or auth. Implementations must be safe for concurrent
// use and must treat backend failures as misses rather than errors.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Has(ctx context.Context, key string) bool
	// InvalidatePattern removes every key matching the glob (path.Match
	// dialect, e.g. "GET:/content/*") and returns how many were removed.
	InvalidatePattern(ctx context.Context, pattern string) int
	Stats() CacheStats
	Close() error
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Entries     int     `json:"entries"`
	Capacity    int     `json:"capacity"`
	HitRate     float64 `json:"hitRate"`
}

// EvictionPolicy selects which entries the in-memory cache discards under
// capacity pressure.
type EvictionPolicy int

const (
	// EvictLRU discards the least recently accessed entries.
	EvictLRU EvictionPolicy = iota
	// EvictLFU discards the least frequently accessed entries.
	EvictLFU
	// EvictTTL discards the entries closest to expiry.
	EvictTTL
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictLRU:
		return "lru"
	case EvictLFU:
		return "lfu"
	case EvictTTL:
		return "ttl"
	default:
		return "unknown"
	}
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Option configures a Client at construction time.
type Option func(*Client)
