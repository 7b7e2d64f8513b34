// Package circuit implements the per-processor circuit breaker as a pure
// state machine, in the spirit of the teacher's adaptive rate limiter
// breaker (engine/internal/ratelimit/limiter.go) but generalized to the
// dispatch/probe failure model of this system and parameterized by
// configurable thresholds instead of hard-coded constants.
package circuit

import (
	"sync"
	"time"

	"github.com/frameorchestrator/core/internal/models"
)

// Config carries the tunables from spec.md §4.3 / §6.4.
type Config struct {
	FailureThreshold int           // CLOSED -> OPEN after this many consecutive failures
	SuccessThreshold int           // HALF_OPEN -> CLOSED after this many consecutive successes
	RecoveryTimeout  time.Duration // OPEN -> HALF_OPEN eligibility after this elapses
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: 60 * time.Second}
}

// Breaker is a single processor's circuit breaker. Safe for concurrent use;
// all transitions are serialized by an internal mutex (I6 applies to
// breaker state the same way it applies to registry mutations).
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     models.CircuitStateKind
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, state: models.CircuitClosed}
}

// Allow reports whether a call may proceed, evaluating the OPEN ->
// HALF_OPEN timeout transition as a side effect (spec.md §4.3: "After
// recovery_timeout, transition -> HALF_OPEN on next evaluation").
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == models.CircuitOpen {
		if now.Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = models.CircuitHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return true
}

// RecordSuccess applies a success event (probe 2xx or accepted dispatch
// write) and returns the resulting state.
func (b *Breaker) RecordSuccess(now time.Time) models.CircuitStateKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case models.CircuitHalfOpen:
		b.successes++
		b.failures = 0
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = models.CircuitClosed
			b.successes = 0
		}
	case models.CircuitClosed:
		b.failures = 0
	}
	return b.state
}

// RecordFailure applies a failure event (probe non-2xx/timeout, dispatch
// write rejection, or an externally reported error-rate breach) and
// returns the resulting state.
func (b *Breaker) RecordFailure(now time.Time) models.CircuitStateKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case models.CircuitHalfOpen:
		b.trip(now)
	case models.CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
	return b.state
}

func (b *Breaker) trip(now time.Time) {
	b.state = models.CircuitOpen
	b.openedAt = now
	b.failures = 0
	b.successes = 0
}

// Snapshot returns a point-in-time view suitable for API/registry export.
func (b *Breaker) Snapshot(processorID string) models.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.CircuitState{
		ProcessorID:         processorID,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		ConsecutiveSuccess:  b.successes,
		OpenedAt:            b.openedAt,
	}
}

// State returns the current state without mutating it.
func (b *Breaker) State() models.CircuitStateKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset returns the breaker to CLOSED with zeroed counters. Registry
// unregister does not call it; it drops the breaker together with the
// registry entry.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = models.CircuitClosed
	b.failures = 0
	b.successes = 0
	b.openedAt = time.Time{}
}
