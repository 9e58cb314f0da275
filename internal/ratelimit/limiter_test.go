package ratelimit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func testLimiter(requestsPerMinute, burst float64) (*Limiter, *time.Time) {
	l := New(requestsPerMinute, burst)
	current := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }
	l.last = current
	return l, &current
}

func TestLimiterAllowsBurstThenDenies(t *testing.T) {
	l, _ := testLimiter(60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(), "request %d within burst", i)
	}
	assert.False(t, l.Allow(), "burst exhausted without elapsed time")
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l, now := testLimiter(60, 2)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// 60/min refills one token per second.
	*now = now.Add(1 * time.Second)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiterCapsAtBurst(t *testing.T) {
	l, now := testLimiter(60, 3)

	*now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow(), "idle time must not accumulate beyond burst")
}

func TestLimiterDefaultBurstEqualsRate(t *testing.T) {
	l := New(30, 0)
	assert.InDelta(t, 30.0, l.Tokens(), 1e-9)
}

func TestRegistryUnknownSourceAdmitted(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Allow("unregistered"))

	r.Register("api", 60, 1)
	assert.True(t, r.Allow("api"))
	assert.False(t, r.Allow("api"))
}

// Property: the number of admitted requests in any burst never exceeds
// the bucket capacity plus the tokens refilled over the elapsed time.
func TestProperty_LimiterNeverExceedsBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("admitted requests bounded by capacity plus refill", prop.ForAll(
		func(rate float64, burst float64, attempts int, stepMillis int) bool {
			l, now := testLimiter(rate, burst)

			admitted := 0
			for i := 0; i < attempts; i++ {
				*now = now.Add(time.Duration(stepMillis) * time.Millisecond)
				if l.Allow() {
					admitted++
				}
			}

			elapsed := float64(attempts*stepMillis) / 1000.0
			budget := burst + elapsed*rate/60.0
			return float64(admitted) <= budget+1e-6
		},
		gen.Float64Range(1, 600),
		gen.Float64Range(1, 50),
		gen.IntRange(1, 200),
		gen.IntRange(0, 500),
	))

	properties.TestingRun(t)
}
