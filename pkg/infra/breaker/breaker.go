package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker is open and the
// reset timeout has not elapsed. Callers must treat it as "temporarily
// unavailable", not as a backend failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Opts struct {
	TimeProvider func() time.Time
}

// CircuitBreaker guards calls to a fragile dependency. State is process
// local: each instance senses failures independently and is not shared
// through the store.
type CircuitBreaker struct {
	settings     Settings
	timeProvider func() time.Time

	mu      sync.Mutex
	machine Machine
}

func NewCircuitBreaker(settings Settings, opts *Opts) *CircuitBreaker {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &CircuitBreaker{
		settings:     settings,
		timeProvider: timeProvider,
	}
}

// Execute runs fn under the breaker. While open it fails fast with
// ErrCircuitOpen without invoking fn; otherwise fn's outcome feeds the state
// machine and its error is passed through unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	cb.mu.Lock()
	next, admitted := cb.machine.Admit(cb.timeProvider(), cb.settings)
	cb.machine = next
	cb.mu.Unlock()

	if !admitted {
		return nil, ErrCircuitOpen
	}

	result, err := fn(ctx)

	cb.mu.Lock()
	if err != nil {
		cb.machine = cb.machine.Failure(cb.timeProvider(), cb.settings)
	} else {
		cb.machine = cb.machine.Success(cb.settings)
	}
	cb.mu.Unlock()

	return result, err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.machine.State
}

// Snapshot returns a copy of the current machine value.
func (cb *CircuitBreaker) Snapshot() Machine {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.machine
}

func (cb *CircuitBreaker) Settings() Settings {
	return cb.settings
}
