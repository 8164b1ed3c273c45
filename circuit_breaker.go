package aemclient

import (
	"sync"
	"time"
)

// BreakerConfig holds circuit breaker configuration shared by every breaker
// a registry creates.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive recoverable failures
	// that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit rejects calls before
	// admitting a half-open probe.
	RecoveryTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// Breaker guards one named dependency. All state lives behind a single mutex
// per record; breakers for different operation keys fail independently.
type Breaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int64
	total       int64
	lastFailure time.Time
	nextAttempt time.Time
	probing     bool
	now         func() time.Time
}

// BreakerStats is a point-in-time snapshot of one breaker's record.
type BreakerStats struct {
	Name          string       `json:"name"`
	State         CircuitState `json:"state"`
	Failures      int          `json:"failures"`
	Successes     int64        `json:"successes"`
	TotalRequests int64        `json:"totalRequests"`
	LastFailure   time.Time    `json:"lastFailure,omitempty"`
	NextAttempt   time.Time    `json:"nextAttempt,omitempty"`
}

// NewBreaker creates a circuit breaker for the named dependency.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Execute runs fn through the breaker. While the circuit is open (or a
// half-open probe is already in flight) fn is not invoked and a synthetic
// CIRCUIT_OPEN error carrying the dependency name and time to the next probe
// is returned instead. fn's error, classified by its Recoverable flag,
// drives the state machine.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() *ClientError {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if !b.now().Before(b.nextAttempt) {
			b.state = StateHalfOpen
			b.probing = true
			return nil
		}
		return b.openError()
	case StateHalfOpen:
		// Exactly one probe may be in flight; everyone else fails fast so
		// the recovering dependency is not stampeded.
		if b.probing {
			return b.openError()
		}
		b.probing = true
		return nil
	default:
		return b.openError()
	}
}

// openError is called with b.mu held.
func (b *Breaker) openError() *ClientError {
	ce := newError(KindCircuitOpen, b.name, "circuit breaker is open", ErrCircuitOpen)
	if wait := b.nextAttempt.Sub(b.now()); wait > 0 {
		ce.RetryAfter = wait
	}
	return ce
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Non-recoverable failures are caller errors, not dependency-health
	// signals: the dependency answered, so they count as successes here.
	if err != nil && IsRecoverable(err) {
		b.failures++
		b.lastFailure = b.now()

		switch b.state {
		case StateClosed:
			if b.failures >= b.config.FailureThreshold {
				b.trip()
			}
		case StateHalfOpen:
			b.trip()
		}
		return
	}

	b.successes++
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.probing = false
	}
}

// trip is called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.nextAttempt = b.now().Add(b.config.RecoveryTimeout)
	b.probing = false
}

// ForceOpen trips the breaker regardless of its counters, for operational
// overrides and tests.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.trip()
}

// Reset returns the breaker to CLOSED with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.nextAttempt = time.Time{}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's record.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:          b.name,
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		TotalRequests: b.total,
		LastFailure:   b.lastFailure,
		NextAttempt:   b.nextAttempt,
	}
}
