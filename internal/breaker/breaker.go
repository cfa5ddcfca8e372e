// Package breaker provides a circuit breaker that isolates failing
// downstream services. One breaker exists per service name and is shared by
// every pipeline calling that service: the breaker protects the downstream,
// not an individual session.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State represents the breaker state.
type State int

const (
	// StateClosed - Calls flow through normally.
	StateClosed State = iota
	// StateOpen - Calls are rejected until the retry deadline.
	StateOpen
	// StateHalfOpen - A limited number of trial calls probe recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned by Execute when the breaker rejects a call and
// no fallback was supplied.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds per-breaker thresholds.
type Config struct {
	FailureThreshold int           // failures within RollingWindow before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // how long OPEN lasts before a trial
	RollingWindow    time.Duration // window over which failures are counted
}

// DefaultConfig returns sensible default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		RollingWindow:    60 * time.Second,
	}
}

// Counters holds cumulative call accounting for a breaker.
type Counters struct {
	Total    int64 `json:"total"`
	Success  int64 `json:"success"`
	Failure  int64 `json:"failure"`
	Rejected int64 `json:"rejected"`
}

// Breaker is a circuit breaker for one downstream service. Thread-safe:
// it is shared across every concurrent pipeline calling that service.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failures        []time.Time
	halfOpenSuccess int
	nextAttemptTime time.Time
	counters        Counters
	onStateChange   func(name string, from, to State)
	onReject        func(name string)

	now func() time.Time // injectable for tests
}

// New creates a circuit breaker in the CLOSED state.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the downstream service name this breaker protects.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsAvailable reports whether a call made now would be allowed through.
func (b *Breaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != StateOpen || !b.now().Before(b.nextAttemptTime)
}

// GetCounters returns a copy of the cumulative counters.
func (b *Breaker) GetCounters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// SetStateChangeHook registers a callback invoked on every state
// transition, used for metrics and alerting.
func (b *Breaker) SetStateChangeHook(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// SetRejectHook registers a hook fired for every call rejected while the
// breaker is open.
func (b *Breaker) SetRejectHook(fn func(name string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReject = fn
}

// Execute runs fn through the breaker. When the breaker is open and the
// retry deadline has not passed, the call is rejected: the fallback runs if
// supplied, otherwise ErrCircuitOpen is returned. When the open timeout has
// elapsed, the breaker moves to HALF_OPEN and fn becomes the trial request.
// On failure the fallback (if supplied) absorbs the error.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error, fallback func(ctx context.Context) error) error {
	if !b.allow() {
		b.reject()
		if fallback != nil {
			return fallback(ctx)
		}
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure()
		if fallback != nil {
			return fallback(ctx)
		}
		return err
	}

	b.onSuccess()
	return nil
}

// allow decides whether the next call may proceed, performing the
// OPEN→HALF_OPEN transition when the retry deadline has passed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	if b.now().Before(b.nextAttemptTime) {
		return false
	}

	// Timeout elapsed: single trial request.
	b.transition(StateHalfOpen)
	b.halfOpenSuccess = 0
	return true
}

func (b *Breaker) reject() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters.Rejected++
	if b.onReject != nil {
		b.onReject(b.name)
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counters.Total++
	b.counters.Success++

	if b.state == StateHalfOpen {
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = nil
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.counters.Total++
	b.counters.Failure++
	b.failures = append(b.failures, now)
	b.pruneFailures(now)

	switch b.state {
	case StateHalfOpen:
		// The trial failed: one half-open failure always reopens.
		b.transition(StateOpen)
		b.nextAttemptTime = now.Add(b.cfg.Timeout)
	case StateClosed:
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.nextAttemptTime = now.Add(b.cfg.Timeout)
		}
	}
}

// pruneFailures drops failure timestamps older than the rolling window.
// Caller must hold b.mu.
func (b *Breaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-b.cfg.RollingWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// transition changes state and fires the hook. Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	log.Info().
		Str("component", "breaker").
		Str("service", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Reset forces the breaker back to CLOSED, clearing its failure history.
// Operator action only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = nil
	b.halfOpenSuccess = 0
}
