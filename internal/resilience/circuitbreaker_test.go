package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	})
	current := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return current }
	return cb, &current
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := testBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
	}

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, CircuitClosed, cb.State(), "non-consecutive failures must not open the circuit")
}

func TestCircuitBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	cb, now := testBreaker(1, 30*time.Second)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)

	require.NoError(t, cb.Allow(), "cooldown elapsed, one trial admitted")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "second call during the trial must be rejected")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	cb, now := testBreaker(1, 30*time.Second)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	*now = now.Add(30 * time.Second)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "cooldown restarts after a failed trial")

	*now = now.Add(30 * time.Second)
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := testBreaker(1, time.Hour)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerExecute(t *testing.T) {
	cb, _ := testBreaker(1, time.Hour)
	sentinel := errors.New("fetch failed")

	err := cb.Execute(context.Background(), func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, CircuitOpen, cb.State())

	err = cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	stats := cb.Stats()
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalRejected)
}
