package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-trader/internal/cache"
	"consensus-trader/internal/config"
	"consensus-trader/internal/models"
	"consensus-trader/internal/resilience"
	"consensus-trader/internal/sources"
)

// stubSource returns a canned opinion or error and counts fetches.
type stubSource struct {
	name    string
	opinion models.SourceOpinion
	err     error
	delay   time.Duration
	fetches atomic.Int64
}

func (s *stubSource) Name() string                     { return s.name }
func (s *stubSource) Capability() models.Capability    { return models.CapabilityMarketData }
func (s *stubSource) CacheTTL() (time.Duration, time.Duration) {
	return 30 * time.Second, 10 * time.Minute
}

func (s *stubSource) Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.SourceOpinion{}, ctx.Err()
		}
	}
	if s.err != nil {
		return models.SourceOpinion{}, s.err
	}
	op := s.opinion
	op.SourceID = s.name
	op.Symbol = symbol
	return op, nil
}

func buyOpinion(confidence float64) models.SourceOpinion {
	return models.SourceOpinion{Direction: models.DirectionBuy, Confidence: confidence, FetchedAt: time.Now()}
}

func newTestOrchestrator(t *testing.T, cfgs map[string]config.SourceConfig, srcs ...*stubSource) (*Orchestrator, *cache.OpinionCache) {
	t.Helper()
	registry := sources.NewRegistry()
	for _, src := range srcs {
		require.NoError(t, registry.Register(src))
	}
	opinionCache := cache.New(cache.NewMemoryStore(), nil)
	o := New(registry, opinionCache, cfgs, 2*time.Second, zerolog.Nop())
	return o, opinionCache
}

func TestFetchAllCollectsAllSources(t *testing.T) {
	a := &stubSource{name: "alpha", opinion: buyOpinion(80)}
	b := &stubSource{name: "beta", opinion: buyOpinion(60)}
	o, _ := newTestOrchestrator(t, nil, a, b)

	opinions := o.FetchAll(context.Background(), "AAPL")
	require.Len(t, opinions, 2)
	assert.Equal(t, int64(1), a.fetches.Load())
	assert.Equal(t, int64(1), b.fetches.Load())
}

func TestFetchAllReturnsPartialResults(t *testing.T) {
	good := &stubSource{name: "good", opinion: buyOpinion(70)}
	bad := &stubSource{name: "bad", err: errors.New("upstream down")}
	o, _ := newTestOrchestrator(t, nil, good, bad)

	opinions := o.FetchAll(context.Background(), "AAPL")
	require.Len(t, opinions, 1)
	assert.Equal(t, "good", opinions[0].SourceID)
}

func TestFetchAllServesFromCache(t *testing.T) {
	src := &stubSource{name: "alpha", opinion: buyOpinion(80)}
	o, _ := newTestOrchestrator(t, nil, src)
	ctx := context.Background()

	require.Len(t, o.FetchAll(ctx, "AAPL"), 1)
	require.Len(t, o.FetchAll(ctx, "AAPL"), 1)
	assert.Equal(t, int64(1), src.fetches.Load(), "second call must hit the cache")

	// A different symbol is a different cache key.
	o.FetchAll(ctx, "MSFT")
	assert.Equal(t, int64(2), src.fetches.Load())
}

func TestFetchAllSkipsWhenRateLimited(t *testing.T) {
	src := &stubSource{name: "alpha", opinion: buyOpinion(80)}
	cfgs := map[string]config.SourceConfig{
		"alpha": {RequestsPerMinute: 60, Burst: 1, MarketHoursTTL: time.Nanosecond, OffHoursTTL: time.Nanosecond},
	}
	o, _ := newTestOrchestrator(t, cfgs, src)
	ctx := context.Background()

	require.Len(t, o.FetchAll(ctx, "AAPL"), 1)
	// The burst is exhausted and the first opinion has expired.
	assert.Empty(t, o.FetchAll(ctx, "AAPL"))
	assert.Equal(t, int64(1), src.fetches.Load())
}

func TestFetchAllOpensBreakerAfterFailures(t *testing.T) {
	src := &stubSource{name: "flaky", err: errors.New("boom")}
	cfgs := map[string]config.SourceConfig{
		"flaky": {FailureThreshold: 2, Cooldown: time.Hour},
	}
	o, _ := newTestOrchestrator(t, cfgs, src)
	ctx := context.Background()

	o.FetchAll(ctx, "AAPL")
	o.FetchAll(ctx, "AAPL")
	assert.Equal(t, int64(2), src.fetches.Load())

	// Circuit is open now; further cycles never reach the source.
	o.FetchAll(ctx, "AAPL")
	o.FetchAll(ctx, "AAPL")
	assert.Equal(t, int64(2), src.fetches.Load())
	assert.Empty(t, o.ActiveSources())
}

func TestFetchAllDropsSlowSource(t *testing.T) {
	fast := &stubSource{name: "fast", opinion: buyOpinion(80)}
	slow := &stubSource{name: "slow", opinion: buyOpinion(60), delay: time.Second}
	cfgs := map[string]config.SourceConfig{
		"slow": {FetchTimeout: 20 * time.Millisecond},
	}
	o, _ := newTestOrchestrator(t, cfgs, fast, slow)

	opinions := o.FetchAll(context.Background(), "AAPL")
	require.Len(t, opinions, 1)
	assert.Equal(t, "fast", opinions[0].SourceID)
}

func TestResetBreakerReadmitsSource(t *testing.T) {
	src := &stubSource{name: "flaky", err: errors.New("boom")}
	cfgs := map[string]config.SourceConfig{
		"flaky": {FailureThreshold: 1, Cooldown: time.Hour},
	}
	o, _ := newTestOrchestrator(t, cfgs, src)
	ctx := context.Background()

	o.FetchAll(ctx, "AAPL")
	require.Empty(t, o.ActiveSources())

	assert.False(t, o.ResetBreaker("unknown"))
	require.True(t, o.ResetBreaker("flaky"))
	assert.Equal(t, []string{"flaky"}, o.ActiveSources())

	src.err = nil
	src.opinion = buyOpinion(70)
	require.Len(t, o.FetchAll(ctx, "AAPL"), 1)
}

func TestBreakerStats(t *testing.T) {
	a := &stubSource{name: "alpha", opinion: buyOpinion(80)}
	b := &stubSource{name: "beta", err: errors.New("down")}
	cfgs := map[string]config.SourceConfig{
		"beta": {FailureThreshold: 1, Cooldown: time.Hour},
	}
	o, _ := newTestOrchestrator(t, cfgs, a, b)

	o.FetchAll(context.Background(), "AAPL")

	stats := o.BreakerStats()
	require.Len(t, stats, 2)
	byName := make(map[string]resilience.CircuitBreakerStats, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}
	assert.Equal(t, resilience.CircuitClosed, byName["alpha"].State)
	assert.Equal(t, resilience.CircuitOpen, byName["beta"].State)
}
