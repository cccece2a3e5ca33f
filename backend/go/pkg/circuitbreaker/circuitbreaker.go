package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where requests are allowed.
	Closed State = iota
	// Open state is when the circuit has tripped and requests are blocked.
	Open
	// HalfOpen allows a single trial request to test whether the dependency recovered.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailurePredicate decides which errors count against the breaker.
// By default every error counts except the caller's own cancellation.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker guards calls to a dependency that may be unavailable.
type Breaker struct {
	failureThreshold uint32        // Number of consecutive failures to trip the circuit.
	successThreshold uint32        // Number of successes in HalfOpen state to close the circuit.
	timeout          time.Duration // Duration to wait in Open state before transitioning to HalfOpen.
	isFailure        func(error) bool
	now              func() time.Time

	mutex                sync.Mutex
	state                State
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
	openedAt             time.Time
	probing              bool
}

// New creates a Breaker.
// failureThreshold: The number of consecutive failures required to open the circuit.
// successThreshold: The number of consecutive successes in the half-open state required to close the circuit.
// timeout: The duration the circuit remains open before transitioning to half-open.
func New(failureThreshold, successThreshold uint32, timeout time.Duration, opts ...Option) *Breaker {
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	if successThreshold == 0 {
		successThreshold = 1
	}
	b := &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
		state:            Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.advance()
	return b.state
}

// Execute runs fn unless the circuit is open. While half-open only one call is let through at a time.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)

	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.probing = false
	if err != nil && b.countsAsFailure(ctx, err) {
		b.onFailure()
	} else if err == nil {
		b.onSuccess()
	}
	return err
}

func (b *Breaker) acquire() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.advance()

	switch b.state {
	case Open:
		return ErrCircuitOpen
	case HalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) countsAsFailure(ctx context.Context, err error) bool {
	if b.isFailure != nil {
		return b.isFailure(err)
	}
	// the caller gave up; that says nothing about the dependency
	return !(errors.Is(err, context.Canceled) && ctx.Err() != nil)
}

// advance moves Open to HalfOpen once the timeout elapsed. Caller holds the lock.
func (b *Breaker) advance() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.timeout {
		b.state = HalfOpen
		b.consecutiveSuccesses = 0
		b.probing = false
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
}
