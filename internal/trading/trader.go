// Package trading wires the fetch, consensus, risk and execution
// subsystems into the per-symbol processing pipeline.
package trading

import (
	"context"

	"github.com/rs/zerolog"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/cache"
	"consensus-trader/internal/consensus"
	apperrors "consensus-trader/internal/errors"
	"consensus-trader/internal/execution"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/models"
	"consensus-trader/internal/orchestrator"
	"consensus-trader/internal/resilience"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/sources"
	"consensus-trader/internal/store"
)

// Trader runs the full pipeline for one symbol per cycle: fetch opinions,
// fuse them into a signal, persist it, and hand tradable signals to the
// execution engine.
type Trader struct {
	orchestrator *orchestrator.Orchestrator
	engine       *consensus.Engine
	weights      *consensus.WeightManager
	monitor      *risk.Monitor
	exec         *execution.Engine
	backend      broker.ExecutionBackend
	signals      store.SignalStore
	quotes       sources.QuoteProvider
	regime       *resilience.RegimeDetector
	calendar     *cache.Calendar
	logger       zerolog.Logger
}

// Deps holds the trader's collaborators. Signals and Quotes may be nil;
// persistence and the price-driven steps are then skipped.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Engine       *consensus.Engine
	Weights      *consensus.WeightManager
	Monitor      *risk.Monitor
	Exec         *execution.Engine
	Backend      broker.ExecutionBackend
	Signals      store.SignalStore
	Quotes       sources.QuoteProvider
	Regime       *resilience.RegimeDetector
	Calendar     *cache.Calendar
	Logger       zerolog.Logger
}

// New creates a trader from its dependencies.
func New(deps Deps) *Trader {
	return &Trader{
		orchestrator: deps.Orchestrator,
		engine:       deps.Engine,
		weights:      deps.Weights,
		monitor:      deps.Monitor,
		exec:         deps.Exec,
		backend:      deps.Backend,
		signals:      deps.Signals,
		quotes:       deps.Quotes,
		regime:       deps.Regime,
		calendar:     deps.Calendar,
		logger:       deps.Logger,
	}
}

// Start launches the background loops the pipeline depends on.
func (t *Trader) Start(ctx context.Context) {
	t.weights.Start()
	t.monitor.Start(ctx)
	t.exec.StartMonitor(ctx)
}

// Stop shuts the background loops down and persists the adaptive weights.
func (t *Trader) Stop(ctx context.Context) {
	t.exec.StopMonitor()
	t.monitor.Stop()
	t.weights.Stop()

	if t.signals != nil {
		if err := t.signals.SaveWeights(ctx, t.weights.Snapshot()); err != nil {
			t.logger.Warn().Err(err).Msg("Persisting source weights failed")
		}
	}
}

// ProcessSymbol runs one full cycle for the symbol. Errors never
// propagate; a cycle that produces nothing actionable just logs why.
func (t *Trader) ProcessSymbol(ctx context.Context, symbol string) {
	logger := logging.WithSymbol(t.logger, symbol)

	price := t.observePrice(ctx, symbol)

	opinions := t.orchestrator.FetchAll(ctx, symbol)
	signal := t.engine.Fuse(symbol, price, opinions, t.weights.Weights())

	logging.LogSignal(t.logger, signal.Symbol, string(signal.Direction),
		signal.Confidence, signal.Tradable, len(signal.ContributingSources))

	if t.signals != nil {
		if err := t.signals.SaveSignal(ctx, signal); err != nil {
			logger.Warn().Err(err).Str("signal_id", signal.ID).Msg("Persisting signal failed")
		}
	}

	if !signal.Tradable {
		return
	}
	if t.calendar != nil && !t.calendar.IsOpen() {
		logger.Debug().Msg("Market closed, tradable signal not executed")
		return
	}

	order, err := t.exec.Execute(ctx, signal)
	switch {
	case err == nil:
		if t.signals != nil {
			if saveErr := t.signals.SaveOrder(ctx, order); saveErr != nil {
				logger.Warn().Err(saveErr).Str("order_id", order.ID).Msg("Persisting order failed")
			}
		}
	case apperrors.Is(err, apperrors.ErrExposureLimit),
		apperrors.Is(err, apperrors.ErrTradingHalted),
		apperrors.Is(err, apperrors.ErrNotTradable):
		logger.Debug().Err(err).Msg("Signal not executed")
	default:
		logger.Error().Err(err).Str("signal_id", signal.ID).Msg("Order execution failed")
	}
}

// observePrice fetches the current price, feeds the regime detector, and
// pushes the price into a paper backend for mark-to-market. Returns 0
// when no quote is available.
func (t *Trader) observePrice(ctx context.Context, symbol string) float64 {
	if t.quotes == nil {
		return 0
	}
	quote, err := t.quotes.Quote(ctx, symbol)
	if err != nil || quote.Price <= 0 {
		if err != nil {
			logger := logging.WithSymbol(t.logger, symbol)
			logger.Debug().Err(err).Msg("Quote unavailable")
		}
		return 0
	}

	if t.regime != nil {
		t.regime.Observe(symbol, quote.Price)
	}
	if paper, ok := t.backend.(*broker.PaperBackend); ok {
		paper.UpdatePrice(symbol, quote.Price)
	}
	return quote.Price
}

// Price is the scheduler's price lookup for the minimum-move filter.
func (t *Trader) Price(ctx context.Context, symbol string) (float64, error) {
	if t.quotes == nil {
		return 0, apperrors.ErrDataNotFound
	}
	quote, err := t.quotes.Quote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return quote.Price, nil
}

// ReportOutcome records a signal outcome and feeds it to the adaptive
// weight manager.
func (t *Trader) ReportOutcome(ctx context.Context, outcome models.SignalOutcome) error {
	if t.signals != nil {
		if err := t.signals.SaveOutcome(ctx, outcome); err != nil {
			return apperrors.Wrap(err, "persisting outcome")
		}
	}
	t.weights.ReportOutcome(outcome)
	return nil
}

// Monitor exposes the risk monitor for status reporting.
func (t *Trader) Monitor() *risk.Monitor { return t.monitor }

// Weights exposes the weight manager snapshot for status reporting.
func (t *Trader) Weights() []models.SourceWeight { return t.weights.Snapshot() }

// BreakerStats exposes per-source circuit breaker statistics.
func (t *Trader) BreakerStats() []resilience.CircuitBreakerStats {
	return t.orchestrator.BreakerStats()
}
