package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateOpen rejects every request without network I/O.
	StateOpen
	// StateHalfOpen admits exactly one trial request.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitBreakerOpenError is returned when the breaker rejects a request
// without attempting it. RetryAfter hints when the next trial is allowed.
type CircuitBreakerOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitBreakerOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker is open, retry after %s", e.RetryAfter.Round(time.Second))
	}
	return "circuit breaker is open"
}

// ErrorCode implements the module's error classification interface.
func (e *CircuitBreakerOpenError) ErrorCode() string { return "circuit_breaker_open" }

// CircuitBreaker tracks consecutive failures against one server and fails
// fast once a threshold is crossed. After resetTimeout it admits a single
// trial request (half-open); the trial's outcome decides whether the
// circuit closes again or re-opens.
type CircuitBreaker struct {
	threshold    int
	resetTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	onTransition func(from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *CircuitBreaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithResetTimeout sets how long the circuit stays open before a trial.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(b *CircuitBreaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithBreakerLogger sets the logger for state transition messages.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *CircuitBreaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBreakerClock overrides the time source. Used in tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTransitionHook registers a callback invoked on every state change,
// outside the breaker lock. Used to record metrics.
func WithTransitionHook(fn func(from, to State)) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onTransition = fn
	}
}

// NewCircuitBreaker creates a closed breaker with default thresholds.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		threshold:    DefaultFailureThreshold,
		resetTimeout: DefaultResetTimeout,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a request may proceed. When the circuit is open and
// the reset timeout has elapsed, the caller becomes the half-open trial.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return false
		}
		from := b.state
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.transitioned(from, StateHalfOpen)
		return true

	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return false
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return true

	default:
		b.mu.Unlock()
		return false
	}
}

// RecordSuccess resets the failure count; a successful half-open trial
// closes the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.trialInFlight = false
	b.state = StateClosed
	b.mu.Unlock()

	if from != StateClosed {
		b.transitioned(from, StateClosed)
	}
}

// RecordFailure counts a failure. Crossing the threshold, or failing the
// half-open trial, opens the circuit.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.trialInFlight = false
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateOpen:
		// Already open, nothing to count.
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		b.transitioned(from, to)
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// retryAfter returns how long until the next trial is allowed.
func (b *CircuitBreaker) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.resetTimeout - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *CircuitBreaker) transitioned(from, to State) {
	b.logger.Info("circuit breaker state changed",
		"from", from.String(),
		"to", to.String())
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
