package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}

	calls := 0
	result, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentErrorAbortsImmediately(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Permanent:    func(err error) bool { return errors.Is(err, errPermanent) },
	}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond}

	calls := 0
	err := Retry(ctx, cfg, func() error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelaySchedules(t *testing.T) {
	linear := RetryConfig{InitialDelay: 100 * time.Millisecond, Linear: true}
	assert.Equal(t, 100*time.Millisecond, linear.delayFor(0))
	assert.Equal(t, 200*time.Millisecond, linear.delayFor(1))
	assert.Equal(t, 300*time.Millisecond, linear.delayFor(2))

	exp := RetryConfig{InitialDelay: 100 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, exp.delayFor(0))
	assert.Equal(t, 200*time.Millisecond, exp.delayFor(1))
	assert.Equal(t, 400*time.Millisecond, exp.delayFor(2))

	capped := RetryConfig{InitialDelay: 100 * time.Millisecond, BackoffFactor: 2, MaxDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, capped.delayFor(2))
}
