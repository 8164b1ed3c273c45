package aemclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDefaultsAreValid(t *testing.T) {
	c := New()
	defer c.Close()

	if !c.IsValid() {
		t.Fatalf("expected valid defaults, got %v", c.ValidationError())
	}
	if c.baseURL == "" {
		t.Error("expected default base URL")
	}
	if c.breakers == nil || c.limiters == nil || c.coalescer == nil {
		t.Error("expected reliability components initialized")
	}
}

func TestOptionsAreApplied(t *testing.T) {
	httpClient := &http.Client{}
	logger := &captureLogger{}
	policy := BulkRetryPolicy()

	c := New(
		WithBaseURL("https://author-p1-e2.adobeaemcloud.com"),
		WithUserAgent("content-sync/2.1"),
		WithHTTPClient(httpClient),
		WithRetryPolicy(policy),
		WithOperationRetryPolicy("packages", CacheRetryPolicy()),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 7, RecoveryTimeout: time.Minute}),
		WithLogger(logger),
		WithDebug(),
		WithMemoryCache(50, EvictLFU, time.Minute),
	)
	defer c.Close()

	if !c.IsValid() {
		t.Fatalf("expected valid config, got %v", c.ValidationError())
	}
	if c.baseURL != "https://author-p1-e2.adobeaemcloud.com" {
		t.Errorf("baseURL not applied: %q", c.baseURL)
	}
	if c.userAgent != "content-sync/2.1" {
		t.Errorf("userAgent not applied: %q", c.userAgent)
	}
	if c.httpClient != httpClient {
		t.Error("httpClient not applied")
	}
	if c.defaultPolicy.MaxAttempts != policy.MaxAttempts {
		t.Error("default retry policy not applied")
	}
	if _, ok := c.policyByOp["packages"]; !ok {
		t.Error("per-operation retry policy not applied")
	}
	if !c.debug.Enabled {
		t.Error("debug not enabled")
	}
	if c.cache == nil || c.cacheName != "memory" {
		t.Error("memory cache not applied")
	}
	if got := c.breakers.Get("pages").config.FailureThreshold; got != 7 {
		t.Errorf("breaker config not propagated, threshold=%d", got)
	}
}

func TestPolicyForSelectsOperationPolicy(t *testing.T) {
	c := New(
		WithRetryPolicy(HTTPRetryPolicy()),
		WithOperationRetryPolicy("bulk", BulkRetryPolicy()),
	)
	defer c.Close()

	bulk := c.policyFor("bulk", DefaultRequestOptions())
	if bulk.MaxAttempts != BulkRetryPolicy().MaxAttempts {
		t.Error("expected bulk preset for bulk operation")
	}

	plain := c.policyFor("pages", DefaultRequestOptions())
	if plain.AttemptTimeout != HTTPRetryPolicy().AttemptTimeout {
		t.Error("expected default policy for unregistered operation")
	}

	opts := DefaultRequestOptions()
	opts.Timeout = 3 * time.Second
	opts.Retries = 9
	overridden := c.policyFor("pages", opts)
	if overridden.AttemptTimeout != 3*time.Second || overridden.MaxAttempts != 9 {
		t.Errorf("per-call overrides not applied: %+v", overridden)
	}
}

func TestValidateRejectsBadBaseURL(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"no scheme":  "author.example.com",
		"bad scheme": "ftp://author.example.com",
	}
	for name, u := range cases {
		c := New(WithBaseURL(u))
		if c.IsValid() {
			t.Errorf("%s: expected invalid config for %q", name, u)
		}
		c.Close()
	}
}

func TestValidateRejectsBadRetryPolicy(t *testing.T) {
	c := New(WithRetryPolicy(RetryPolicy{
		MaxAttempts: 0,
		BaseDelay:   -time.Second,
		MaxDelay:    time.Millisecond,
		Multiplier:  0.5,
	}))
	defer c.Close()

	if c.IsValid() {
		t.Fatal("expected invalid retry policy rejected")
	}
	var ce *ClientError
	if !errors.As(c.ValidationError(), &ce) || ce.Kind != KindValidation {
		t.Errorf("expected VALIDATION error, got %v", c.ValidationError())
	}
}

func TestValidateRejectsDebugWithoutLogger(t *testing.T) {
	c := New(WithDebug())
	defer c.Close()

	if c.IsValid() {
		t.Error("debug without a logger should be invalid")
	}
}

func TestValidateRejectsIncompleteCredentials(t *testing.T) {
	cases := map[string]Credentials{
		"basic without username": {Type: CredentialBasic},
		"oauth without token url": {
			Type:     CredentialClientCredentials,
			ClientID: "id",
		},
		"service account without key": {
			Type:     CredentialServiceAccount,
			TokenURL: "https://ims-na1.adobelogin.com/ims/exchange/jwt",
			Issuer:   "org",
			Subject:  "tech",
		},
		"unknown type": {Type: "kerberos"},
	}

	for name, creds := range cases {
		c := New(WithCredentials(creds))
		if c.IsValid() {
			t.Errorf("%s: expected invalid config", name)
		}
		c.Close()
	}
}

func TestValidateRejectsBadRateLimiter(t *testing.T) {
	c := New(WithRateLimiter(0, 0))
	defer c.Close()

	if c.IsValid() {
		t.Error("zero-token limiter should be invalid")
	}
}

func TestValidateFlagsExtremeValues(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 500
	c := New(WithRetryPolicy(policy))
	defer c.Close()

	if c.IsValid() {
		t.Error("extreme attempt count should be flagged")
	}
}

func TestInvalidClientStillAnswers(t *testing.T) {
	c := New(WithBaseURL("ftp://author.example.com"))
	defer c.Close()

	if c.IsValid() {
		t.Fatal("expected invalid config")
	}
	// Calls still return envelopes rather than panicking.
	opts := DefaultRequestOptions()
	opts.Retries = 1
	resp := c.Get(context.Background(), "/content.json", nil, opts)
	if resp == nil {
		t.Fatal("expected an envelope from an invalid client")
	}
}

func TestWithMetricsRegistry(t *testing.T) {
	c := New(WithMetricsRegistry(prometheus.NewRegistry()))
	defer c.Close()

	if c.metrics == nil {
		t.Error("expected metrics collector")
	}
}

func TestWithSimpleLoggerEnablesDebug(t *testing.T) {
	c := New(WithSimpleLogger())
	defer c.Close()

	if !c.debug.Enabled || c.logger == nil {
		t.Error("expected debug enabled with a logger")
	}
	if !c.IsValid() {
		t.Errorf("expected valid config, got %v", c.ValidationError())
	}
}
