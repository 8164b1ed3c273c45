package aemclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a failure for retry and circuit breaker decisions.
// Transport details are mapped into this taxonomy at the orchestrator
// boundary; the reliability layers only ever reason about kinds and the
// Recoverable flag.
type ErrorKind string

const (
	// KindAuthentication means the credential itself was rejected.
	KindAuthentication ErrorKind = "AUTHENTICATION"
	// KindAuthorization means the credential is valid but insufficient.
	KindAuthorization ErrorKind = "AUTHORIZATION"
	// KindValidation means the caller supplied bad input. Never retried,
	// never counted by the breaker.
	KindValidation ErrorKind = "VALIDATION"
	// KindNotFound means the target resource does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindNetwork is a connection-level failure. Retryable.
	KindNetwork ErrorKind = "NETWORK"
	// KindTimeout means the attempt deadline elapsed. Retryable.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindServer means AEM reported a 5xx/429-class failure. Retryable and
	// counted by the breaker.
	KindServer ErrorKind = "SERVER"
	// KindCircuitOpen is the synthetic rejection emitted while a breaker is
	// open, distinguished from a genuine remote failure.
	KindCircuitOpen ErrorKind = "CIRCUIT_OPEN"
	// KindRateLimited means the local token bucket denied the call.
	KindRateLimited ErrorKind = "RATE_LIMITED"
	// KindUnknown is the defensive catch-all. Not retried.
	KindUnknown ErrorKind = "UNKNOWN"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when a breaker rejects a call.
	ErrCircuitOpen = errors.New("aemclient: circuit open")

	// ErrRateLimited is returned when a call is denied by the rate limiter.
	ErrRateLimited = errors.New("aemclient: rate limited")

	// ErrClientClosed is returned for calls issued after Close.
	ErrClientClosed = errors.New("aemclient: client closed")
)

// ClientError is the structured error carried in failure envelopes.
type ClientError struct {
	Kind        ErrorKind      `json:"kind"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	// RetryAfter suggests how long to wait before the next attempt; zero
	// means no suggestion.
	RetryAfter time.Duration  `json:"retryAfter,omitempty"`
	StatusCode int            `json:"statusCode,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// clone returns a shallow copy so shared errors (coalesced calls) can be
// annotated per caller without racing.
func (e *ClientError) clone() *ClientError {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("[%s] %s", e.Operation, msg)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches by kind so errors.Is(err, &ClientError{Kind: KindServer}) works.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrCircuitOpen {
		return e.Kind == KindCircuitOpen
	}
	if target == ErrRateLimited {
		return e.Kind == KindRateLimited
	}
	if t, ok := target.(*ClientError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// IsRecoverable reports whether retrying or waiting is expected to change the
// outcome of err.
func IsRecoverable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Recoverable
	}
	return false
}

// newError builds a ClientError with the kind's default recoverability.
func newError(kind ErrorKind, operation, message string, cause error) *ClientError {
	return &ClientError{
		Kind:        kind,
		Message:     message,
		Recoverable: kindRecoverable(kind),
		Operation:   operation,
		Cause:       cause,
	}
}

func kindRecoverable(kind ErrorKind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindServer, KindRateLimited:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code to the error taxonomy. Success
// codes map to KindUnknown; callers check the code first.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized:
		return KindAuthentication
	case code == http.StatusForbidden:
		return KindAuthorization
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusBadRequest,
		code == http.StatusMethodNotAllowed,
		code == http.StatusConflict,
		code == http.StatusUnprocessableEntity:
		return KindValidation
	case code == http.StatusTooManyRequests:
		return KindServer
	case code >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// errorFromStatus builds a ClientError for a non-2xx transport response.
// The response body, when present, is preserved in Details for callers that
// want AEM's own error payload.
func errorFromStatus(operation string, code int, body []byte) *ClientError {
	kind := classifyStatus(code)
	ce := newError(kind, operation, http.StatusText(code), nil)
	ce.StatusCode = code
	if len(body) > 0 {
		ce.Details = map[string]any{"body": string(body)}
	}
	return ce
}

// parseRetryAfter parses a Retry-After header value in either delay-seconds
// or HTTP-date form, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// mapTransportError normalizes a transport-level error (already a
// *ClientError, a context deadline, or a raw net error) into the taxonomy.
func mapTransportError(operation string, err error) *ClientError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, operation, "attempt deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		ce := newError(KindTimeout, operation, "call canceled", err)
		ce.Recoverable = false
		return ce
	}
	return newError(KindNetwork, operation, "transport request failed", err)
}
