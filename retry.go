package aemclient

import (
	"context"
	"errors"
	"time"

	"github.com/indrasishbanerjee/aemaacs-mcp-server-sub004/internal/backoff"
)

// RetryPolicy bounds how one asynchronous operation is retried. Presets below
// differ only in values; the executor's algorithm is shared.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff before jitter.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor.
	Multiplier float64
	// Jitter adds up to 25% uniform jitter on top of the capped delay.
	Jitter bool
	// AttemptTimeout bounds each attempt so one hung call cannot consume
	// the whole retry budget.
	AttemptTimeout time.Duration
	// FallbackDelay is waited before the one fallback invocation.
	FallbackDelay time.Duration
	// RetryableKinds lists error kinds retried even when a ClientError does
	// not carry Recoverable (defensive; mapped errors normally do).
	RetryableKinds map[ErrorKind]bool
}

// DefaultRetryPolicy suits plain orchestrated operations.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		AttemptTimeout: 30 * time.Second,
		FallbackDelay:  100 * time.Millisecond,
		RetryableKinds: map[ErrorKind]bool{
			KindNetwork:     true,
			KindTimeout:     true,
			KindServer:      true,
			KindRateLimited: true,
		},
	}
}

// HTTPRetryPolicy suits interactive AEM HTTP calls: tighter attempts, short
// per-attempt deadline.
func HTTPRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.BaseDelay = 200 * time.Millisecond
	p.MaxDelay = 5 * time.Second
	p.AttemptTimeout = 15 * time.Second
	return p
}

// BulkRetryPolicy suits long-running batch operations (package builds, bulk
// updates): more patience per attempt, fewer retries.
func BulkRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 2
	p.BaseDelay = time.Second
	p.MaxDelay = 30 * time.Second
	p.AttemptTimeout = 2 * time.Minute
	return p
}

// CacheRetryPolicy suits operations against the shared cache service: fail
// fast, the cache is best effort.
func CacheRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 2
	p.BaseDelay = 50 * time.Millisecond
	p.MaxDelay = 500 * time.Millisecond
	p.AttemptTimeout = 2 * time.Second
	return p
}

// RetryResult is the transient attempt ledger for one executed operation.
type RetryResult struct {
	Success      bool
	Err          error
	Attempts     int
	TotalTime    time.Duration
	FallbackUsed bool
}

// RetryExecutor wraps an operation with bounded retries, computed backoff, a
// hard timeout per attempt, and an optional single-shot fallback.
type RetryExecutor struct {
	policy  RetryPolicy
	logger  Logger
	metrics *MetricsCollector
	sleep   func(context.Context, time.Duration) error
}

// NewRetryExecutor creates an executor for the given policy.
func NewRetryExecutor(policy RetryPolicy) *RetryExecutor {
	return &RetryExecutor{
		policy: policy,
		sleep:  sleepContext,
	}
}

// Execute runs op up to MaxAttempts times, then invokes fallback at most once
// if supplied. op receives a context bounded by AttemptTimeout; op must honor
// cancellation. The returned ledger reports what happened; Err is nil iff
// Success.
func (e *RetryExecutor) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context) error) RetryResult {
	start := time.Now()
	result := RetryResult{}

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := e.runAttempt(ctx, op)
		if err == nil {
			result.Success = true
			result.TotalTime = time.Since(start)
			return result
		}
		lastErr = err

		if !e.retryable(err) {
			break
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.delayFor(attempt, err)
		if e.logger != nil {
			e.logger.Debug("scheduling retry", "attempt", attempt+1, "delay", delay, "error", err.Error())
		}
		if e.metrics != nil {
			e.metrics.RecordRetry(attempt)
		}
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = mapTransportError("", err)
			break
		}
	}

	if fallback != nil {
		if e.policy.FallbackDelay > 0 {
			if err := e.sleep(ctx, e.policy.FallbackDelay); err != nil {
				result.Err = lastErr
				result.TotalTime = time.Since(start)
				return result
			}
		}
		result.FallbackUsed = true
		if e.metrics != nil {
			e.metrics.RecordFallback()
		}
		if err := fallback(ctx); err != nil {
			result.Err = err
		} else {
			result.Success = true
		}
		result.TotalTime = time.Since(start)
		return result
	}

	result.Err = lastErr
	result.TotalTime = time.Since(start)
	return result
}

func (e *RetryExecutor) runAttempt(ctx context.Context, op func(context.Context) error) error {
	attemptCtx := ctx
	if e.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()
	}

	err := op(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// The attempt timer fired, not the caller's deadline.
		return mapTransportError("", context.DeadlineExceeded)
	}
	return err
}

func (e *RetryExecutor) retryable(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Kind == KindCircuitOpen {
		// Re-running inside the recovery window cannot succeed.
		return false
	}
	if ce.Recoverable {
		return true
	}
	return e.policy.RetryableKinds[ce.Kind]
}

// delayFor computes the backoff for the attempt that just failed, preferring
// a server-supplied retry-after hint when one is present.
func (e *RetryExecutor) delayFor(attempt int, err error) time.Duration {
	var ce *ClientError
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		if ce.RetryAfter <= e.policy.MaxDelay {
			return ce.RetryAfter
		}
		return e.policy.MaxDelay
	}
	return backoff.Delay(attempt, e.policy.BaseDelay, e.policy.MaxDelay, e.policy.Multiplier, e.policy.Jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
