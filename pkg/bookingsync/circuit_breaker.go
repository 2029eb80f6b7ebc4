package bookingsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to a backend that may be down.
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open and returns fn's error unchanged.
	Execute(ctx context.Context, fn func() error) error
	State() CircuitState
}

// BreakerConfig configures a StoreBreaker
type BreakerConfig struct {
	// Threshold is the number of consecutive backend failures that opens the circuit.
	// Values below 1 are treated as 1.
	Threshold int

	// ResetTimeout is how long the circuit stays open before one trial call is let through.
	// Default: 30s
	ResetTimeout time.Duration

	// IsFailure decides which errors count against the backend.
	// Default: IsBackendFailure
	IsFailure func(error) bool

	// OnStateChange is called with the new state, under the breaker's lock
	OnStateChange func(CircuitState)

	// Now defaults to time.Now
	Now func() time.Time
}

// IsBackendFailure reports whether err says the store itself is unhealthy.
// Lookups that found nothing, rejected keys, duplicate ledger entries and calls
// the client gave up on all mean the store answered.
func IsBackendFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case IsNotFound(err),
		errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrEventAlreadyProcessed),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// StoreBreaker opens after a run of consecutive backend failures. Once
// ResetTimeout has passed it admits a single trial call: success closes the
// circuit, failure keeps it open for another ResetTimeout.
type StoreBreaker struct {
	mu sync.Mutex

	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool

	threshold     int
	resetTimeout  time.Duration
	isFailure     func(error) bool
	onStateChange func(CircuitState)
	now           func() time.Time
}

// NewStoreBreaker creates a closed breaker
func NewStoreBreaker(config BreakerConfig) *StoreBreaker {
	if config.Threshold < 1 {
		config.Threshold = 1
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = IsBackendFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &StoreBreaker{
		state:         CircuitClosed,
		threshold:     config.Threshold,
		resetTimeout:  config.ResetTimeout,
		isFailure:     config.IsFailure,
		onStateChange: config.OnStateChange,
		now:           config.Now,
	}
}

// State returns the current state; an open circuit past its timeout reports half-open
func (b *StoreBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

func (b *StoreBreaker) current() CircuitState {
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Execute implements CircuitBreaker
func (b *StoreBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.settle(trial, b.isFailure(err))
	return err
}

func (b *StoreBreaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case CircuitOpen:
		return false, ErrCircuitOpen
	case CircuitHalfOpen:
		if b.trial {
			return false, ErrCircuitOpen
		}
		b.trial = true
		b.setState(CircuitHalfOpen)
		return true, nil
	default:
		return false, nil
	}
}

func (b *StoreBreaker) settle(trial, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trial = false
	}
	if !failed {
		b.failures = 0
		if trial || b.state != CircuitClosed {
			b.setState(CircuitClosed)
		}
		return
	}

	b.failures++
	if trial || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.setState(CircuitOpen)
	}
}

func (b *StoreBreaker) setState(state CircuitState) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onStateChange != nil {
		b.onStateChange(state)
	}
}
