package aemclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// maxResponseBody bounds how much of an AEM response is read into the
// envelope. Large package downloads should stream outside this client.
const maxResponseBody = 10 << 20

// Client orchestrates operations against a single AEMaaCS author or publish
// instance. Every call flows through the same pipeline: cache lookup, read
// coalescing, credential headers, rate limiting, circuit breaking, bounded
// retries, transport, envelope assembly.
//
// Methods never return a Go error for expected failures; the failure is
// reported inside the Response envelope. Panics are reserved for programmer
// errors such as a nil context.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client

	tokens    *TokenManager
	cache     Cache
	cacheName string
	breakers  *BreakerRegistry
	limiters  *RateLimiterRegistry
	coalescer *readCoalescer

	defaultPolicy RetryPolicy
	policyByOp    map[string]RetryPolicy
	breakerConfig BreakerConfig

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	counters  counters
	startedAt time.Time
	closed    atomic.Bool

	validationError error
}

// New creates a Client with sensible defaults, then applies options. The
// configuration is validated once; use IsValid or ValidationError to inspect
// the result. An invalid client still answers calls so misconfiguration shows
// up as envelope failures rather than panics.
func New(options ...Option) *Client {
	c := &Client{
		baseURL:       "http://localhost:4502",
		userAgent:     "aemclient/" + Version,
		httpClient:    &http.Client{},
		cacheName:     "memory",
		defaultPolicy: HTTPRetryPolicy(),
		policyByOp: map[string]RetryPolicy{
			"bulk": BulkRetryPolicy(),
		},
		debug:     DefaultDebugConfig(),
		startedAt: time.Now(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.debug == nil {
		c.debug = DefaultDebugConfig()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.breakers = NewBreakerRegistry(c.breakerConfig)
	if c.limiters == nil {
		c.limiters = NewRateLimiterRegistry(nil)
	}
	c.coalescer = newReadCoalescer()
	if c.tokens != nil {
		c.tokens.logger = c.logger
		c.tokens.metrics = c.metrics
	}

	c.validationError = c.ValidateConfiguration()
	return c
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the construction-time validation error, or nil.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Get issues a read. query may be nil; its values are merged into the path's
// own query string.
func (c *Client) Get(ctx context.Context, path string, query url.Values, opts *RequestOptions) *Response {
	return c.Request(ctx, http.MethodGet, path, query, opts)
}

// Post issues a write. A url.Values payload is form-encoded the way Sling
// POST servlets expect; anything else is marshaled as JSON.
func (c *Client) Post(ctx context.Context, path string, payload any, opts *RequestOptions) *Response {
	return c.Request(ctx, http.MethodPost, path, payload, opts)
}

// Put issues a replace-style write with the same payload rules as Post.
func (c *Client) Put(ctx context.Context, path string, payload any, opts *RequestOptions) *Response {
	return c.Request(ctx, http.MethodPut, path, payload, opts)
}

// Delete issues a delete. A url.Values payload becomes the query string.
func (c *Client) Delete(ctx context.Context, path string, payload any, opts *RequestOptions) *Response {
	return c.Request(ctx, http.MethodDelete, path, payload, opts)
}

// Request runs one operation through the full pipeline and always returns an
// envelope. A nil opts means DefaultRequestOptions.
func (c *Client) Request(ctx context.Context, method, rawPath string, payload any, opts *RequestOptions) *Response {
	if ctx == nil {
		panic("aemclient: nil context")
	}
	if rawPath == "" {
		panic("aemclient: empty request path")
	}
	if opts == nil {
		opts = DefaultRequestOptions()
	}

	method = strings.ToUpper(method)
	op := opts.Context.Operation
	if op == "" {
		op = DefaultBreakerKey
	}

	start := time.Now()
	meta := ResponseMeta{
		Timestamp:     start,
		CorrelationID: uuid.NewString(),
		Operation:     op,
	}

	if c.closed.Load() {
		return c.failure(meta, start, method, op, newError(KindUnknown, op, "client is closed", ErrClientClosed))
	}

	c.counters.request()
	c.metrics.RecordRequestStart(method, op)
	defer c.metrics.RecordRequestEnd(method, op)

	target, body, cerr := c.buildTarget(method, rawPath, payload)
	if cerr != nil {
		return c.failure(meta, start, method, op, cerr)
	}

	cacheable := opts.Cache && c.cache != nil &&
		(method == http.MethodGet || method == http.MethodHead)
	var key string
	if cacheable {
		key = cacheKey(method, target)
		if data, ok := c.cache.Get(ctx, key); ok {
			c.counters.cacheHit()
			c.metrics.RecordCacheHit(op)
			c.debugLog(c.debug.LogCache, "cache hit", "key", key, "operation", op)
			meta.Cached = true
			meta.Duration = time.Since(start)
			return &Response{Success: true, Data: data, Meta: meta}
		}
		c.metrics.RecordCacheMiss(op)
	}

	execute := func() *Response {
		return c.execute(ctx, method, target, body, op, opts, meta, start, cacheable, key)
	}

	if cacheable {
		resp, _ := c.coalescer.do(ctx, key, execute)
		if resp == nil {
			// Waiter context expired before the owner finished.
			return c.failure(meta, start, method, op, mapTransportError(op, ctx.Err()))
		}
		return resp
	}
	return execute()
}

// execute runs the reliability pipeline for a call that missed the cache.
func (c *Client) execute(ctx context.Context, method, target string, body *requestBody, op string, opts *RequestOptions, meta ResponseMeta, start time.Time, cacheable bool, key string) *Response {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return c.failure(meta, start, method, op, mapTransportError(op, err))
	}
	if len(opts.Headers) > 0 {
		if headers == nil {
			headers = make(map[string]string, len(opts.Headers))
		}
		for k, v := range opts.Headers {
			headers[k] = v
		}
	}

	// attempts counts transport executions; a circuit-open rejection or rate
	// limit denial leaves it untouched, so those surface as Attempts: 0.
	var attempts int
	var resultData []byte
	var statusCode int

	transport := func(attemptCtx context.Context) error {
		attempts++
		data, code, terr := c.roundTrip(attemptCtx, method, target, body, headers, op)
		if terr != nil {
			return terr
		}
		resultData, statusCode = data, code
		return nil
	}

	inner := transport
	if opts.CircuitBreaker {
		breaker := c.breakers.Get(op)
		inner = func(attemptCtx context.Context) error {
			err := breaker.Execute(func() error { return transport(attemptCtx) })
			c.metrics.RecordCircuitState(op, breaker.State())
			if ce, ok := err.(*ClientError); ok && ce.Kind == KindCircuitOpen {
				c.debugLog(c.debug.LogCircuit, "circuit rejected call", "operation", op, "retryAfter", ce.RetryAfter)
			}
			return err
		}
	}

	guarded := func(attemptCtx context.Context) error {
		if ok, limiter := c.limiters.Allow(op); !ok {
			c.metrics.RecordRateLimited(op)
			ce := newError(KindRateLimited, op, "local rate limit exceeded", ErrRateLimited)
			if limiter != nil {
				ce.RetryAfter = limiter.RefillRate()
			}
			return ce
		}
		return inner(attemptCtx)
	}

	var fallback func(context.Context) error
	if opts.Fallback != nil {
		fallback = func(fbCtx context.Context) error {
			data, ferr := opts.Fallback(fbCtx)
			if ferr != nil {
				return mapTransportError(op, ferr)
			}
			resultData, statusCode = data, 0
			return nil
		}
	}

	executor := NewRetryExecutor(c.policyFor(op, opts))
	executor.metrics = c.metrics
	if c.debug.Enabled && c.debug.LogRetries {
		executor.logger = c.logger
	}

	res := executor.Execute(ctx, guarded, fallback)

	meta.Attempts = attempts
	meta.StatusCode = statusCode
	meta.FallbackUsed = res.FallbackUsed

	if !res.Success {
		ce := mapTransportError(op, res.Err)
		if ce.Operation == "" {
			ce.Operation = op
		}
		meta.StatusCode = ce.StatusCode
		return c.failure(meta, start, method, op, ce)
	}

	meta.Duration = time.Since(start)
	if cacheable && resultData != nil {
		c.cache.Set(ctx, key, resultData, opts.CacheTTL)
		c.metrics.RecordCacheSize(c.cacheName, c.cache.Stats().Entries)
		c.debugLog(c.debug.LogCache, "cache store", "key", key, "ttl", opts.CacheTTL)
	}
	c.metrics.RecordRequest(method, op, statusCode, meta.Duration)
	c.debugLog(c.debug.LogRequests, "operation succeeded",
		"method", method, "operation", op, "status", statusCode,
		"attempts", attempts, "duration", meta.Duration, "correlationId", meta.CorrelationID)

	return &Response{Success: true, Data: resultData, Meta: meta}
}

// roundTrip performs one transport attempt and maps the outcome into the
// error taxonomy.
func (c *Client) roundTrip(ctx context.Context, method, target string, body *requestBody, headers map[string]string, op string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, newError(KindValidation, op, "building request failed", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && body.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", body.contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, mapTransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, 0, mapTransportError(op, err)
	}

	if resp.StatusCode >= 400 {
		ce := errorFromStatus(op, resp.StatusCode, data)
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			ce.RetryAfter = ra
		}
		return nil, resp.StatusCode, ce
	}
	return data, resp.StatusCode, nil
}

// requestBody pairs serialized payload bytes with their content type so
// retries can replay the body from a fresh reader.
type requestBody struct {
	data        []byte
	contentType string
}

// buildTarget resolves the absolute URL and serializes the payload. Read
// methods take url.Values as query parameters; writes take url.Values as a
// form body or any JSON-serializable value.
func (c *Client) buildTarget(method, rawPath string, payload any) (string, *requestBody, *ClientError) {
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(rawPath, "/") {
		rawPath = "/" + rawPath
	}
	u, err := url.Parse(base + rawPath)
	if err != nil {
		return "", nil, newError(KindValidation, "", fmt.Sprintf("invalid request path %q", rawPath), err)
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		switch q := payload.(type) {
		case nil:
		case url.Values:
			query := u.Query()
			for k, vs := range q {
				for _, v := range vs {
					query.Add(k, v)
				}
			}
			u.RawQuery = query.Encode()
		default:
			return "", nil, newError(KindValidation, "",
				fmt.Sprintf("read methods accept url.Values query parameters, got %T", payload), nil)
		}
		return u.String(), nil, nil

	case http.MethodDelete:
		if q, ok := payload.(url.Values); ok {
			query := u.Query()
			for k, vs := range q {
				for _, v := range vs {
					query.Add(k, v)
				}
			}
			u.RawQuery = query.Encode()
			return u.String(), nil, nil
		}
	}

	body, cerr := serializePayload(payload)
	if cerr != nil {
		return "", nil, cerr
	}
	return u.String(), body, nil
}

func serializePayload(payload any) (*requestBody, *ClientError) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case url.Values:
		return &requestBody{
			data:        []byte(p.Encode()),
			contentType: "application/x-www-form-urlencoded",
		}, nil
	case json.RawMessage:
		return &requestBody{data: []byte(p), contentType: "application/json"}, nil
	case []byte:
		return &requestBody{data: p, contentType: "application/json"}, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, newError(KindValidation, "", "payload is not JSON-serializable", err)
		}
		return &requestBody{data: data, contentType: "application/json"}, nil
	}
}

// cacheKey fingerprints a read by method, path and canonicalized (sorted)
// query so equivalent requests share one entry.
func cacheKey(method, target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return method + ":" + target
	}
	key := method + ":" + u.Path
	if u.RawQuery != "" {
		key += "?" + u.Query().Encode()
	}
	return key
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	if c.tokens == nil {
		return nil, nil
	}
	headers, err := c.tokens.Headers(ctx)
	if err != nil {
		c.debugLog(c.debug.LogAuth, "credential refresh failed", "error", err.Error())
	}
	return headers, err
}

// policyFor selects the retry policy for the operation key, then applies the
// per-call overrides.
func (c *Client) policyFor(op string, opts *RequestOptions) RetryPolicy {
	policy, ok := c.policyByOp[op]
	if !ok {
		policy = c.defaultPolicy
	}
	if opts.Timeout > 0 {
		policy.AttemptTimeout = opts.Timeout
	}
	if opts.Retries > 0 {
		policy.MaxAttempts = opts.Retries
	}
	return policy
}

// failure finalizes a failure envelope and records it.
func (c *Client) failure(meta ResponseMeta, start time.Time, method, op string, ce *ClientError) *Response {
	meta.Duration = time.Since(start)
	if meta.StatusCode == 0 {
		meta.StatusCode = ce.StatusCode
	}
	c.counters.failure()
	c.metrics.RecordError(ce.Kind, op)
	c.metrics.RecordRequest(method, op, ce.StatusCode, meta.Duration)
	if c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Error("operation failed",
			"method", method, "operation", op, "kind", string(ce.Kind),
			"recoverable", ce.Recoverable, "attempts", meta.Attempts,
			"correlationId", meta.CorrelationID)
	}
	return &Response{Success: false, Error: ce, Meta: meta}
}

func (c *Client) debugLog(flag bool, msg string, keysAndValues ...interface{}) {
	if c.logger == nil || !c.debug.Enabled || !flag {
		return
	}
	c.logger.Debug(msg, keysAndValues...)
}

// ClearCache removes cached entries matching the glob pattern and returns how
// many were removed.
func (c *Client) ClearCache(ctx context.Context, pattern string) int {
	if c.cache == nil {
		return 0
	}
	removed := c.cache.InvalidatePattern(ctx, pattern)
	c.metrics.RecordCacheSize(c.cacheName, c.cache.Stats().Entries)
	c.debugLog(c.debug.LogCache, "cache invalidated", "pattern", pattern, "removed", removed)
	return removed
}

// ResetBreaker force-closes the breaker for the operation key; it reports
// whether the breaker existed.
func (c *Client) ResetBreaker(operation string) bool {
	return c.breakers.Reset(operation)
}

// ResetBreakers force-closes every breaker.
func (c *Client) ResetBreakers() {
	c.breakers.ResetAll()
}

// Close releases transport and cache resources. Calls issued after Close
// return a failure envelope. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}
