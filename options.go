package aemclient

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// WithBaseURL sets the AEM instance URL, e.g.
// "https://author-p12345-e67890.adobeaemcloud.com".
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client for the transport. Per-attempt
// deadlines come from the retry policy, so the client's own Timeout is
// usually left zero.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCredentials configures the credential exchanged for auth headers.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) {
		c.tokens = NewTokenManager(creds, nil)
	}
}

// WithTokenManager sets a pre-built token manager, for callers that share one
// across clients.
func WithTokenManager(tm *TokenManager) Option {
	return func(c *Client) {
		c.tokens = tm
	}
}

// WithMemoryCache enables the in-process response cache.
func WithMemoryCache(capacity int, policy EvictionPolicy, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewMemoryCache(capacity, policy, ttl)
		c.cacheName = "memory"
	}
}

// WithRedisCache enables a shared Redis-backed response cache on an existing
// Redis client.
func WithRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewRedisCache(client, prefix, ttl)
		c.cacheName = "redis"
	}
}

// WithCache sets a custom cache implementation. name labels cache metrics.
func WithCache(cache Cache, name string) Option {
	return func(c *Client) {
		c.cache = cache
		if name != "" {
			c.cacheName = name
		}
	}
}

// WithBreakerConfig sets the configuration shared by all per-operation
// breakers.
func WithBreakerConfig(config BreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = config
	}
}

// WithRetryPolicy sets the policy used by operations without a dedicated one.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.defaultPolicy = policy
	}
}

// WithOperationRetryPolicy installs a retry policy for one operation key.
func WithOperationRetryPolicy(operation string, policy RetryPolicy) Option {
	return func(c *Client) {
		if c.policyByOp == nil {
			c.policyByOp = make(map[string]RetryPolicy)
		}
		c.policyByOp[operation] = policy
	}
}

// WithRateLimiter sets the fallback token bucket applied to operations
// without a dedicated limiter.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		limiter := NewRateLimiter(maxTokens, refillRate)
		if c.limiters == nil {
			c.limiters = NewRateLimiterRegistry(limiter)
			return
		}
		c.limiters.fallback = limiter
	}
}

// WithOperationRateLimiter installs a token bucket for one operation key.
func WithOperationRateLimiter(operation string, maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		if c.limiters == nil {
			c.limiters = NewRateLimiterRegistry(nil)
		}
		c.limiters.Register(operation, NewRateLimiter(maxTokens, refillRate))
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on a custom registerer.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a pre-built collector, for callers sharing one
// across clients.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHCLog routes debug output to a hashicorp/go-hclog logger.
func WithHCLog(logger hclog.Logger) Option {
	return func(c *Client) {
		c.logger = NewHCLogAdapter(logger)
	}
}

// WithDebug enables debug logging with the default stage flags.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug stage flags.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithSimpleLogger enables debug logging to stderr, for quick diagnosis.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error describing every violation found.
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateEndpointConfig()...)
	errs = append(errs, c.validateRetryConfig()...)
	errs = append(errs, c.validateBreakerConfig()...)
	errs = append(errs, c.validateRateLimiterConfig()...)
	errs = append(errs, c.validateCredentialConfig()...)
	errs = append(errs, c.validateDebugConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &ClientError{
			Kind:    KindValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errs),
		}
	}
	return nil
}

func (c *Client) validateEndpointConfig() []string {
	var errs []string

	if c.baseURL == "" {
		errs = append(errs, "baseURL must be set")
		return errs
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		errs = append(errs, fmt.Sprintf("baseURL %q is not a valid URL", c.baseURL))
		return errs
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, "baseURL scheme must be http or https")
	}
	if u.Host == "" {
		errs = append(errs, "baseURL must include a host")
	}
	if c.httpClient == nil {
		errs = append(errs, "HTTP client cannot be nil")
	}

	return errs
}

func (c *Client) validateRetryConfig() []string {
	var errs []string

	check := func(name string, p RetryPolicy) {
		if p.MaxAttempts < 1 {
			errs = append(errs, fmt.Sprintf("%s retry policy MaxAttempts must be at least 1", name))
		}
		if p.BaseDelay <= 0 {
			errs = append(errs, fmt.Sprintf("%s retry policy BaseDelay must be positive", name))
		}
		if p.MaxDelay < p.BaseDelay {
			errs = append(errs, fmt.Sprintf("%s retry policy MaxDelay must be at least BaseDelay", name))
		}
		if p.Multiplier < 1 {
			errs = append(errs, fmt.Sprintf("%s retry policy Multiplier must be at least 1", name))
		}
	}

	check("default", c.defaultPolicy)
	for op, p := range c.policyByOp {
		check(op, p)
	}

	return errs
}

func (c *Client) validateBreakerConfig() []string {
	var errs []string

	// Zero values mean defaults; only explicit negatives are invalid.
	if c.breakerConfig.FailureThreshold < 0 {
		errs = append(errs, "breaker FailureThreshold must be non-negative")
	}
	if c.breakerConfig.RecoveryTimeout < 0 {
		errs = append(errs, "breaker RecoveryTimeout must be non-negative")
	}

	return errs
}

func (c *Client) validateRateLimiterConfig() []string {
	var errs []string
	if c.limiters == nil {
		return errs
	}

	check := func(name string, rl *RateLimiter) {
		if rl == nil {
			return
		}
		if rl.maxTokens <= 0 {
			errs = append(errs, fmt.Sprintf("%s rate limiter maxTokens must be positive", name))
		}
		if rl.refillRate <= 0 {
			errs = append(errs, fmt.Sprintf("%s rate limiter refillRate must be positive", name))
		}
	}

	check("fallback", c.limiters.fallback)
	for op, rl := range c.limiters.limiters {
		check(op, rl)
	}

	return errs
}

func (c *Client) validateCredentialConfig() []string {
	var errs []string
	if c.tokens == nil {
		return errs
	}

	creds := c.tokens.creds
	switch creds.Type {
	case CredentialBasic:
		if creds.Username == "" {
			errs = append(errs, "basic credentials require a username")
		}
	case CredentialClientCredentials:
		if creds.ClientID == "" {
			errs = append(errs, "client-credentials require a client id")
		}
		if creds.TokenURL == "" {
			errs = append(errs, "client-credentials require a token URL")
		}
	case CredentialServiceAccount:
		if len(creds.PrivateKeyPEM) == 0 {
			errs = append(errs, "service-account credentials require a private key")
		}
		if creds.TokenURL == "" {
			errs = append(errs, "service-account credentials require a token URL")
		}
		if creds.Issuer == "" || creds.Subject == "" {
			errs = append(errs, "service-account credentials require issuer and subject")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported credential type %q", creds.Type))
	}

	return errs
}

func (c *Client) validateDebugConfig() []string {
	var errs []string

	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		errs = append(errs, "logger must be set when debug logging is enabled")
	}

	return errs
}

// validateExtremeValues flags values that are technically valid but almost
// certainly misconfiguration.
func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.defaultPolicy.MaxAttempts > 100 {
		errs = append(errs, "retry MaxAttempts > 100 may cause excessive resource usage")
	}
	if c.defaultPolicy.MaxDelay > time.Hour {
		errs = append(errs, "retry MaxDelay > 1h may cause extremely long delays")
	}
	if c.defaultPolicy.AttemptTimeout > 10*time.Minute {
		errs = append(errs, "AttemptTimeout > 10m may cause calls to hang for too long")
	}
	if c.breakerConfig.RecoveryTimeout > time.Hour {
		errs = append(errs, "breaker RecoveryTimeout > 1h may keep a healthy endpoint dark")
	}

	return errs
}
