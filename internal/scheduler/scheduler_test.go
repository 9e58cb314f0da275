package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-trader/internal/config"
)

// recorder counts process invocations per symbol.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) process(ctx context.Context, symbol string) {
	r.mu.Lock()
	r.calls[symbol]++
	r.mu.Unlock()
}

func (r *recorder) count(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[symbol]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

// drainInflight waits until no symbol is claimed, so back-to-back cycles
// in tests do not lose invocations to the single-flight guard.
func drainInflight(t *testing.T, s *Scheduler) {
	t.Helper()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.inflight) == 0
	})
}

func TestSchedulerProcessesAllSymbols(t *testing.T) {
	rec := newRecorder()
	s := New(config.SchedulerConfig{Symbols: []string{"AAPL", "MSFT"}}, rec.process, nil, zerolog.Nop())

	s.runCycle(context.Background())
	waitFor(t, func() bool { return rec.count("AAPL") == 1 && rec.count("MSFT") == 1 })
}

func TestSchedulerSingleFlight(t *testing.T) {
	block := make(chan struct{})
	var calls atomic.Int64
	process := func(ctx context.Context, symbol string) {
		calls.Add(1)
		<-block
	}
	s := New(config.SchedulerConfig{Symbols: []string{"AAPL"}}, process, nil, zerolog.Nop())
	ctx := context.Background()

	s.runCycle(ctx)
	waitFor(t, func() bool { return calls.Load() == 1 })

	// The symbol is still in flight; the next cycle must not start it again.
	s.runCycle(ctx)
	s.runCycle(ctx)
	assert.Equal(t, int64(1), calls.Load())

	close(block)
	drainInflight(t, s)

	s.runCycle(ctx)
	waitFor(t, func() bool { return calls.Load() == 2 })
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	block := make(chan struct{})
	var running, peak atomic.Int64
	process := func(ctx context.Context, symbol string) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-block
		running.Add(-1)
	}
	s := New(config.SchedulerConfig{
		Symbols:        []string{"A", "B", "C", "D"},
		MaxConcurrency: 2,
	}, process, nil, zerolog.Nop())

	s.runCycle(context.Background())
	waitFor(t, func() bool { return running.Load() == 2 })
	time.Sleep(10 * time.Millisecond) // give excess goroutines a chance to overshoot
	assert.Equal(t, int64(2), peak.Load())

	close(block)
	waitFor(t, func() bool { return running.Load() == 0 })
}

func TestSchedulerLowPriorityEveryNthCycle(t *testing.T) {
	rec := newRecorder()
	s := New(config.SchedulerConfig{
		Symbols:      []string{"AAPL"},
		LowPriority:  []string{"VTI"},
		LowPriorityN: 3,
	}, rec.process, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		s.runCycle(ctx)
		drainInflight(t, s)
	}
	assert.Equal(t, 6, rec.count("AAPL"))
	assert.Equal(t, 2, rec.count("VTI"), "low priority runs on cycles 3 and 6 only")
}

func TestSchedulerSkipsUnmovedPrice(t *testing.T) {
	rec := newRecorder()
	var price atomic.Value
	price.Store(100.0)
	priceFn := func(ctx context.Context, symbol string) (float64, error) {
		return price.Load().(float64), nil
	}
	s := New(config.SchedulerConfig{
		Symbols:         []string{"AAPL"},
		MinPriceMovePct: 0.5,
	}, rec.process, priceFn, zerolog.Nop())
	ctx := context.Background()

	// First sighting always processes.
	s.runCycle(ctx)
	waitFor(t, func() bool { return rec.count("AAPL") == 1 })
	drainInflight(t, s)

	// Unchanged price is skipped.
	s.runCycle(ctx)
	s.runCycle(ctx)
	assert.Equal(t, 1, rec.count("AAPL"))

	// A 1% move clears the threshold.
	price.Store(101.0)
	s.runCycle(ctx)
	waitFor(t, func() bool { return rec.count("AAPL") == 2 })
}

func TestSchedulerStartStop(t *testing.T) {
	rec := newRecorder()
	s := New(config.SchedulerConfig{
		Symbols:  []string{"AAPL"},
		Interval: 10 * time.Millisecond,
	}, rec.process, nil, zerolog.Nop())

	s.Start(context.Background())
	waitFor(t, func() bool { return rec.count("AAPL") >= 2 })
	s.Stop()
	drainInflight(t, s)

	after := rec.count("AAPL")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, rec.count("AAPL"), "no cycles after stop")
}
