package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32
	// Interval resets the closed-state failure count. Zero keeps counting
	// forever.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
}

// Breaker trips after FailureThreshold consecutive failures and lets a
// limited number of probes through once Timeout has passed. Probes close it
// again after SuccessThreshold consecutive successes; any probe failure
// reopens it.
type Breaker struct {
	name string
	cfg  Config

	mu         sync.Mutex
	state      State
	generation uint64
	requests   uint32
	successes  uint32
	failures   uint32
	expiry     time.Time
}

func New(name string, cfg Config) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}

	b := &Breaker{name: name, cfg: cfg}
	b.nextGeneration(time.Now())
	return b
}

// Execute runs fn under the breaker. A cancelled context fails fast without
// counting against the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.settle(generation, false)
			panic(r)
		}
	}()

	err = fn()
	b.settle(generation, err == nil)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.refresh(time.Now())
	return state
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.refresh(time.Now())

	switch {
	case state == StateOpen:
		return generation, ErrCircuitOpen
	case state == StateHalfOpen && b.requests >= b.cfg.MaxRequests:
		return generation, ErrTooManyRequests
	}

	b.requests++
	return generation, nil
}

// settle records an outcome. Outcomes from a previous generation are stale
// and dropped.
func (b *Breaker) settle(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.refresh(now)
	if current != generation {
		return
	}

	if success {
		b.successes++
		b.failures = 0
		if state == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed, now)
		}
		return
	}

	b.failures++
	b.successes = 0
	if state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.transition(StateOpen, now)
	}
}

// refresh applies time-based transitions before a state read.
func (b *Breaker) refresh(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.nextGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.nextGeneration(now)

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, prev, state)
	}
	if b.cfg.Logger != nil {
		b.cfg.Logger.Info("Circuit breaker state changed",
			zap.String("name", b.name),
			zap.String("from", prev.String()),
			zap.String("to", state.String()),
		)
	}
}

func (b *Breaker) nextGeneration(now time.Time) {
	b.generation++
	b.requests = 0
	b.successes = 0
	b.failures = 0

	switch b.state {
	case StateClosed:
		if b.cfg.Interval > 0 {
			b.expiry = now.Add(b.cfg.Interval)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.cfg.Timeout)
	default:
		b.expiry = time.Time{}
	}
}
