package aemclient

import (
	"testing"
	"time"
)

func TestRateLimiterConsumesTokens(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d: expected token available", i+1)
		}
	}
	if rl.Allow() {
		t.Error("expected denial once the bucket is empty")
	}
	if rl.Tokens() != 0 {
		t.Errorf("expected 0 tokens, got %d", rl.Tokens())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Millisecond)

	rl.Allow()
	rl.Allow()
	if rl.Allow() {
		t.Fatal("expected empty bucket")
	}

	time.Sleep(25 * time.Millisecond)
	if !rl.Allow() {
		t.Error("expected token after refill interval")
	}
}

func TestRateLimiterCapsAtMaxTokens(t *testing.T) {
	rl := NewRateLimiter(2, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected full bucket")
	}
	if rl.Allow() {
		t.Error("refill must not exceed maxTokens")
	}
}

func TestRateLimiterZeroRefillRateNeverRefills(t *testing.T) {
	rl := NewRateLimiter(2, 0)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected initial tokens consumable")
	}
	if rl.Allow() {
		t.Error("expected denial with a zero refill rate")
	}
	if rl.Allow() {
		t.Error("repeated calls must keep denying, not refill")
	}
	if rl.Tokens() != 0 {
		t.Errorf("expected 0 tokens, got %d", rl.Tokens())
	}
}

func TestRateLimiterRegistryFallback(t *testing.T) {
	fallback := NewRateLimiter(1, time.Hour)
	r := NewRateLimiterRegistry(fallback)

	ok, limiter := r.Allow("pages")
	if !ok || limiter != fallback {
		t.Error("unregistered operation should use the fallback limiter")
	}
	if ok, _ := r.Allow("assets"); ok {
		t.Error("fallback bucket should be shared across operations")
	}
}

func TestRateLimiterRegistryPerOperation(t *testing.T) {
	r := NewRateLimiterRegistry(nil)
	r.Register("bulk", NewRateLimiter(1, time.Hour))

	if ok, _ := r.Allow("bulk"); !ok {
		t.Fatal("expected first bulk call allowed")
	}
	if ok, _ := r.Allow("bulk"); ok {
		t.Error("expected second bulk call denied")
	}
	if ok, limiter := r.Allow("pages"); !ok || limiter != nil {
		t.Error("operations without a limiter should always pass")
	}
}
