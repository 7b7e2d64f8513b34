package circuit

import (
	"testing"
	"time"

	"github.com/frameorchestrator/core/internal/models"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: time.Second})
	now := time.Now()
	require.Equal(t, models.CircuitClosed, b.State())
	b.RecordFailure(now)
	b.RecordFailure(now)
	require.Equal(t, models.CircuitClosed, b.State())
	state := b.RecordFailure(now)
	require.Equal(t, models.CircuitOpen, state)
	require.False(t, b.Allow(now))
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: 100 * time.Millisecond})
	start := time.Now()
	b.RecordFailure(start)
	require.Equal(t, models.CircuitOpen, b.State())
	require.False(t, b.Allow(start))

	later := start.Add(150 * time.Millisecond)
	require.True(t, b.Allow(later))
	require.Equal(t, models.CircuitHalfOpen, b.State())

	b.RecordSuccess(later)
	require.Equal(t, models.CircuitHalfOpen, b.State())
	state := b.RecordSuccess(later)
	require.Equal(t, models.CircuitClosed, state)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: 10 * time.Millisecond})
	start := time.Now()
	b.RecordFailure(start)
	later := start.Add(20 * time.Millisecond)
	require.True(t, b.Allow(later))
	require.Equal(t, models.CircuitHalfOpen, b.State())

	state := b.RecordFailure(later)
	require.Equal(t, models.CircuitOpen, state)
}

func TestBreakerResetClearsState(t *testing.T) {
	b := New(DefaultConfig())
	now := time.Now()
	b.RecordFailure(now)
	b.RecordFailure(now)
	b.Reset()
	snap := b.Snapshot("p1")
	require.Equal(t, models.CircuitClosed, snap.State)
	require.Equal(t, 0, snap.ConsecutiveFailures)
}
