package trading

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/cache"
	"consensus-trader/internal/config"
	"consensus-trader/internal/consensus"
	"consensus-trader/internal/execution"
	"consensus-trader/internal/models"
	"consensus-trader/internal/orchestrator"
	"consensus-trader/internal/resilience"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/sources"
	"consensus-trader/internal/store"
)

// bullishSource always returns a high-confidence BUY.
type bullishSource struct {
	sources.BaseSource
}

func newBullishSource(name string) *bullishSource {
	return &bullishSource{
		BaseSource: sources.NewBaseSource(name, models.CapabilityTechnical, time.Minute, time.Hour),
	}
}

func (s *bullishSource) Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error) {
	return s.Opinion(symbol, models.DirectionBuy, 95, "{}", time.Now()), nil
}

// fixedQuote serves one static price.
type fixedQuote struct{ price float64 }

func (q fixedQuote) Quote(ctx context.Context, symbol string) (sources.Quote, error) {
	return sources.Quote{Symbol: symbol, Price: q.price, Timestamp: time.Now()}, nil
}

func (q fixedQuote) History(ctx context.Context, symbol string, n int) ([]float64, error) {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = q.price
	}
	return closes, nil
}

func newPipeline(t *testing.T) (*Trader, *broker.PaperBackend, store.SignalStore) {
	t.Helper()

	registry := sources.NewRegistry()
	require.NoError(t, registry.Register(newBullishSource("technical")))
	require.NoError(t, registry.Register(newBullishSource("sentiment")))

	opinionCache := cache.New(cache.NewMemoryStore(), nil)
	orch := orchestrator.New(registry, opinionCache, nil, 2*time.Second, zerolog.Nop())

	engine := consensus.NewEngine(consensus.EngineConfig{
		Threshold: 75,
		DeadBand:  5,
		StopPct:   2,
		TargetPct: 4,
	}, nil, zerolog.Nop())

	weights := consensus.NewWeightManager(consensus.WeightsConfig{
		Alpha:     0.2,
		MinWeight: 0.05,
		MaxWeight: 0.5,
	}, map[string]float64{"technical": 0.5, "sentiment": 0.5}, zerolog.Nop())

	backend := broker.NewPaperBackend(broker.PaperBackendConfig{InitialEquity: 100000})
	backend.UpdatePrice("AAPL", 100)

	monitor := risk.NewMonitor(config.RiskConfig{
		MaxDrawdownPct:  0.10,
		MaxDailyLossPct: 0.05,
		WarningRatio:    0.7,
		CriticalRatio:   0.9,
	}, backend, zerolog.Nop())
	require.NoError(t, monitor.Refresh(context.Background()))

	exec := execution.NewEngine(config.ExecutionConfig{
		OrderType:        "MARKET",
		BasePositionPct:  2,
		MaxPositionPct:   5,
		ConfidenceCap:    1.5,
		MaxRetryAttempts: 3,
		RetryBaseDelay:   time.Millisecond,
	}, backend, monitor, nil, zerolog.Nop())

	signals, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { signals.Close() })

	trader := New(Deps{
		Orchestrator: orch,
		Engine:       engine,
		Weights:      weights,
		Monitor:      monitor,
		Exec:         exec,
		Backend:      backend,
		Signals:      signals,
		Quotes:       fixedQuote{price: 100},
		Regime:       resilience.NewRegimeDetector(resilience.DefaultRegimeConfig()),
		Logger:       zerolog.Nop(),
	})
	return trader, backend, signals
}

func TestProcessSymbolExecutesTradableSignal(t *testing.T) {
	trader, backend, signals := newPipeline(t)
	ctx := context.Background()

	trader.ProcessSymbol(ctx, "AAPL")

	positions, err := backend.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1, "a unanimous high-confidence consensus must trade")
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Greater(t, positions[0].Qty, 0.0)

	recent, err := signals.RecentSignals(ctx, "AAPL", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Tradable)
	assert.Equal(t, models.DirectionBuy, recent[0].Direction)

	orders, err := signals.OrdersForSignal(ctx, recent[0].ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusFilled, orders[0].Status)
}

func TestProcessSymbolSkipsExistingPosition(t *testing.T) {
	trader, backend, _ := newPipeline(t)
	ctx := context.Background()

	trader.ProcessSymbol(ctx, "AAPL")
	trader.ProcessSymbol(ctx, "AAPL")

	positions, err := backend.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1, "exposure check must block a second entry")
}

func TestProcessSymbolRespectsHalt(t *testing.T) {
	trader, backend, signals := newPipeline(t)
	ctx := context.Background()

	trader.Monitor().Halt(ctx, "test halt")
	trader.ProcessSymbol(ctx, "AAPL")

	positions, err := backend.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	// The signal is still generated and persisted while halted.
	recent, err := signals.RecentSignals(ctx, "AAPL", 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestReportOutcomeFeedsWeightsAndStore(t *testing.T) {
	trader, _, signals := newPipeline(t)
	ctx := context.Background()

	trader.weights.Start()
	defer trader.weights.Stop()

	require.NoError(t, trader.ReportOutcome(ctx, models.SignalOutcome{
		SignalID:   "sig-1",
		SourceID:   "technical",
		WasCorrect: false,
		Confidence: 90,
		ReportedAt: time.Now(),
	}))

	stats, err := signals.SourceStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "technical", stats[0].SourceID)
	assert.Equal(t, 1, stats[0].Total)
	assert.Equal(t, 0, stats[0].Correct)
}

func TestPriceLookup(t *testing.T) {
	trader, _, _ := newPipeline(t)

	price, err := trader.Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, price, 1e-9)
}
