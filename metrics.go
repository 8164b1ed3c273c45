package aemclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the orchestrated call
// lifecycle and reliability layers. All methods are nil-safe so the client
// can run without metrics. Safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal      *prometheus.CounterVec
	fallbacksTotal    prometheus.Counter
	circuitState      *prometheus.GaugeVec
	rateLimiterDenied *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	tokenRefreshes *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_requests_total",
				Help: "Total number of orchestrated AEM operations",
			},
			[]string{"method", "status_code", "operation"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aemclient_request_duration_seconds",
				Help:    "Duration of orchestrated operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "operation"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aemclient_requests_in_flight",
				Help: "Number of operations currently in flight",
			},
			[]string{"method", "operation"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"attempt"},
		),
		fallbacksTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "aemclient_fallbacks_total",
				Help: "Total number of fallback invocations",
			},
		),
		circuitState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aemclient_circuit_breaker_state",
				Help: "Current breaker state per operation key (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterDenied: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_rate_limited_total",
				Help: "Total number of calls denied by the rate limiter",
			},
			[]string{"operation"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"operation"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"operation"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aemclient_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		tokenRefreshes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_token_refreshes_total",
				Help: "Total number of credential refreshes",
			},
			[]string{"type", "outcome"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "aemclient_errors_total",
				Help: "Total number of errors by taxonomy kind",
			},
			[]string{"kind", "operation"},
		),
		registry: registry,
	}
}

// RecordRequest records operation count and duration.
func (mc *MetricsCollector) RecordRequest(method, operation string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), operation).Inc()
	mc.requestDuration.WithLabelValues(method, operation).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, operation string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, operation).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, operation string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, operation).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// RecordFallback increments the fallback counter.
func (mc *MetricsCollector) RecordFallback() {
	if mc == nil {
		return
	}
	mc.fallbacksTotal.Inc()
}

// RecordCircuitState sets the breaker state gauge for a named breaker.
func (mc *MetricsCollector) RecordCircuitState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimited increments the rate-limit denial counter.
func (mc *MetricsCollector) RecordRateLimited(operation string) {
	if mc == nil {
		return
	}
	mc.rateLimiterDenied.WithLabelValues(operation).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(operation string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(operation).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(operation string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(operation).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordTokenRefresh counts a credential exchange by outcome.
func (mc *MetricsCollector) RecordTokenRefresh(credType CredentialType, success bool) {
	if mc == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	mc.tokenRefreshes.WithLabelValues(string(credType), outcome).Inc()
}

// RecordError increments the error counter by taxonomy kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, operation string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(kind), operation).Inc()
}
