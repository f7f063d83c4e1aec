package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast on an upstream after repeated failures and lets probe
// calls through in half-open state. It never retries a call itself.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	now              func() time.Time
	onStateChange    func(component string, from, to State)
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a half-open probe is allowed.
	Timeout   time.Duration
	Component string
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(component string, from, to State)
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		now:              cfg.Now,
		onStateChange:    cfg.OnStateChange,
	}
}

// Call runs fn when the circuit allows it. While open it returns ErrOpen until
// the timeout has elapsed, then moves to half-open and lets fn through as a probe.
// An error caused by the caller's context ending (cancellation or its deadline) does not
// count as an upstream failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var transitions [][2]State
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			cb.mu.Unlock()
			return fmt.Errorf("%s: %w", cb.component, ErrOpen)
		}
		transitions = append(transitions, cb.setStateLocked(StateHalfOpen))
	}
	cb.mu.Unlock()
	cb.notify(transitions)
	transitions = transitions[:0]

	err := fn()

	cb.mu.Lock()
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// caller gave up; say nothing about upstream health
	case err != nil:
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			transitions = append(transitions, cb.setStateLocked(StateOpen))
		}
	default:
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				transitions = append(transitions, cb.setStateLocked(StateClosed))
			}
		}
	}
	cb.mu.Unlock()
	cb.notify(transitions)
	return err
}

func (cb *CircuitBreaker) setStateLocked(to State) [2]State {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	return [2]State{from, to}
}

func (cb *CircuitBreaker) notify(transitions [][2]State) {
	if cb.onStateChange == nil {
		return
	}
	for _, t := range transitions {
		cb.onStateChange(cb.component, t[0], t[1])
	}
}

// State returns the current state (for metrics).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
