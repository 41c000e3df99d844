// Package circuit wraps the exchange adapter in a fail-fast breaker so a
// dead exchange is detected once and stops being hammered for a cooldown
// period.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"quantra/internal/exchange"
	"quantra/internal/logger"
)

// ErrCircuitOpen is returned by Execute without invoking the operation while
// the breaker is open and the cooldown has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive transient failures
	// required to open the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial is allowed.
	Cooldown time.Duration
	// HalfOpenTrials is how many probe calls may run while half-open,
	// normally 1.
	HalfOpenTrials int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenTrials <= 0 {
		c.HalfOpenTrials = 1
	}
	return c
}

// Breaker guards one downstream dependency. Validation errors pass through
// without touching the failure counter; only transient failures count.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	trials      int
	lastFailure time.Time

	nowFn         func() time.Time
	onStateChange func(name string, from, to State)
}

// New creates a closed Breaker named for its dependency.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		nowFn: time.Now,
	}
}

// SetStateChangeHandler installs a hook fired on every state transition.
func (b *Breaker) SetStateChangeHandler(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op if the breaker permits it. While open and cooling down it
// returns ErrCircuitOpen immediately. A successful call resets the failure
// counter and closes a half-open breaker; a transient failure increments the
// counter and may open it.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.nowFn().Sub(b.lastFailure) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trials = 1
		return nil
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenTrials {
			return ErrCircuitOpen
		}
		b.trials++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	// A caller bug says nothing about exchange health. Hand a consumed
	// half-open trial back so the next call can still probe.
	if exchange.IsValidation(err) {
		if b.state == StateHalfOpen && b.trials > 0 {
			b.trials--
		}
		return
	}

	b.failures++
	b.lastFailure = b.nowFn()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to != StateHalfOpen {
		b.trials = 0
	}
	logger.EventWarn("circuit_state_change",
		"name", b.name,
		"from", from.String(),
		"to", to.String(),
		"failures", b.failures,
		"threshold", b.cfg.FailureThreshold,
	)
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	}
}
