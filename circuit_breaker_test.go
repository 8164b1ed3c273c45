package aemclient

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func recoverableFailure() error {
	return newError(KindServer, "test", "upstream boom", nil)
}

// breakerAt returns a breaker with a controllable clock.
func breakerAt(config BreakerConfig, clock *time.Time) *Breaker {
	b := NewBreaker("test", config)
	b.now = func() time.Time { return *clock }
	return b
}

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{})
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED, got %s", b.State())
	}
}

func TestBreakerOpensAtExactThreshold(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute}, &clock)

	for i := 0; i < 2; i++ {
		b.Execute(recoverableFailure)
		if b.State() != StateClosed {
			t.Fatalf("after %d failures: expected CLOSED, got %s", i+1, b.State())
		}
	}

	b.Execute(recoverableFailure)
	if b.State() != StateOpen {
		t.Errorf("after 3 failures: expected OPEN, got %s", b.State())
	}
}

func TestBreakerIgnoresNonRecoverableFailures(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, &clock)

	for i := 0; i < 5; i++ {
		b.Execute(func() error {
			return newError(KindValidation, "test", "bad input", nil)
		})
	}
	if b.State() != StateClosed {
		t.Errorf("caller errors should not trip the breaker, got %s", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute}, &clock)

	b.Execute(recoverableFailure)
	b.Execute(recoverableFailure)
	b.Execute(func() error { return nil })
	b.Execute(recoverableFailure)
	b.Execute(recoverableFailure)

	if b.State() != StateClosed {
		t.Errorf("interleaved success should reset the streak, got %s", b.State())
	}
}

func TestBreakerOpenRejectsWithoutInvoking(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, &clock)
	b.Execute(recoverableFailure)

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})

	if invoked {
		t.Error("open breaker must not invoke the operation")
	}
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Kind != KindCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("expected rejection to match ErrCircuitOpen")
	}
	if ce.RetryAfter <= 0 || ce.RetryAfter > time.Minute {
		t.Errorf("expected RetryAfter within recovery window, got %v", ce.RetryAfter)
	}
	if ce.Recoverable {
		t.Error("CIRCUIT_OPEN must not be recoverable")
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, &clock)
	b.Execute(recoverableFailure)

	clock = clock.Add(61 * time.Second)

	invoked := false
	b.Execute(func() error {
		invoked = true
		if b.State() != StateHalfOpen {
			t.Errorf("expected HALF_OPEN during probe, got %s", b.State())
		}
		return nil
	})
	if !invoked {
		t.Fatal("expected probe to run after recovery timeout")
	}
	if b.State() != StateClosed {
		t.Errorf("successful probe should close the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, &clock)
	b.Execute(recoverableFailure)

	clock = clock.Add(61 * time.Second)
	b.Execute(recoverableFailure)

	if b.State() != StateOpen {
		t.Errorf("failed probe should reopen the breaker, got %s", b.State())
	}

	// The recovery window restarts from the failed probe.
	err := b.Execute(func() error { return nil })
	if err == nil {
		t.Error("expected rejection immediately after failed probe")
	}
}

func TestBreakerHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, &clock)
	b.Execute(recoverableFailure)
	clock = clock.Add(61 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	var mu sync.Mutex
	rejected, ran := 0, 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(func() error {
				mu.Lock()
				ran++
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}

	// Let the rival calls hit the breaker while the probe is in flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if ran != 0 {
		t.Errorf("expected 0 rival executions during probe, got %d", ran)
	}
	if rejected != 5 {
		t.Errorf("expected 5 rejections during probe, got %d", rejected)
	}
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED after successful probe, got %s", b.State())
	}
}

func TestBreakerNonRecoverableProbeClosesCircuit(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, &clock)
	b.Execute(recoverableFailure)
	clock = clock.Add(61 * time.Second)

	// The dependency answered, even if it answered 404; it is healthy.
	b.Execute(func() error {
		return newError(KindNotFound, "test", "no such page", nil)
	})
	if b.State() != StateClosed {
		t.Errorf("answered probe should close the breaker, got %s", b.State())
	}
}

func TestBreakerForceOpenAndReset(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{})

	b.ForceOpen()
	if b.State() != StateOpen {
		t.Errorf("expected OPEN after ForceOpen, got %s", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED after Reset, got %s", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("reset breaker should admit calls, got %v", err)
	}
}

func TestBreakerStats(t *testing.T) {
	clock := time.Now()
	b := breakerAt(BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute}, &clock)

	b.Execute(func() error { return nil })
	b.Execute(recoverableFailure)

	stats := b.Stats()
	if stats.Name != "test" {
		t.Errorf("expected name test, got %q", stats.Name)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", stats.TotalRequests)
	}
	if stats.Successes != 1 {
		t.Errorf("expected 1 success, got %d", stats.Successes)
	}
	if stats.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failures)
	}
}

func TestBreakerRegistryScopesByKey(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	r.Get("pages").Execute(recoverableFailure)

	if r.Get("pages").State() != StateOpen {
		t.Error("pages breaker should be open")
	}
	if r.Get("assets").State() != StateClosed {
		t.Error("assets breaker should be unaffected")
	}
	if r.Get("") != r.Get(DefaultBreakerKey) {
		t.Error("empty key should alias the default breaker")
	}
}

func TestBreakerRegistryReturnsSameInstance(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{})
	if r.Get("pages") != r.Get("pages") {
		t.Error("expected one breaker per key")
	}
}

func TestBreakerRegistryReset(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	r.Get("pages").ForceOpen()
	r.Get("assets").ForceOpen()

	if !r.Reset("pages") {
		t.Error("expected Reset to report existing breaker")
	}
	if r.Get("pages").State() != StateClosed {
		t.Error("pages breaker should be closed after reset")
	}
	if r.Reset("unknown") {
		t.Error("expected Reset to report missing breaker")
	}

	r.ResetAll()
	if r.Get("assets").State() != StateClosed {
		t.Error("assets breaker should be closed after ResetAll")
	}
}

func TestBreakerRegistryStats(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{})
	r.Get("pages")
	r.Get("assets")

	stats := r.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(stats))
	}
	if _, ok := stats["pages"]; !ok {
		t.Error("expected pages breaker in stats")
	}
}
