// Package risk monitors account health and enforces hard loss limits
// with an emergency shutdown.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/config"
	apperrors "consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/models"
)

// HaltStore persists the halted flag across restarts.
type HaltStore interface {
	SetHalted(ctx context.Context, halted bool, reason string) error
}

// Monitor refreshes account state on a fixed tick, classifies risk, and
// triggers a one-shot emergency shutdown when a hard limit is breached.
// The halted flag is sticky: only a manual Reset resumes trading.
type Monitor struct {
	cfg     config.RiskConfig
	backend broker.ExecutionBackend
	halts   HaltStore
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	state  models.AccountState
	level  models.RiskLevel
	halted bool
	day    time.Time // start of the current trading day

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a risk monitor over the execution backend.
func NewMonitor(cfg config.RiskConfig, backend broker.ExecutionBackend, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetHaltStore attaches persistence for the halted flag. Optional.
func (m *Monitor) SetHaltStore(halts HaltStore) {
	m.halts = halts
}

// Start launches the background tick loop. One refresh runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop shuts down the tick loop.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	interval := m.cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Initial account refresh failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("Account refresh failed")
			}
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Refresh pulls the latest account snapshot, rolls the daily baseline on a
// new day, reclassifies risk, and fires the emergency shutdown on a fresh
// BREACH. Safe to call concurrently with readers.
func (m *Monitor) Refresh(ctx context.Context) error {
	snapshot, err := m.backend.GetAccount(ctx)
	if err != nil {
		return apperrors.Wrap(err, "fetching account state")
	}

	m.mu.Lock()

	now := m.now()
	// Trading days roll at midnight in the clock's own location, not UTC.
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if m.day.IsZero() || day.After(m.day) {
		m.day = day
		m.state.DailyStartEquity = snapshot.Equity
	}
	if snapshot.Equity > m.state.PeakEquity {
		m.state.PeakEquity = snapshot.Equity
	}

	m.state.Equity = snapshot.Equity
	m.state.BuyingPower = snapshot.BuyingPower
	m.state.OpenPositions = snapshot.OpenPositions
	m.state.DailyPnL = snapshot.Equity - m.state.DailyStartEquity
	m.state.RefreshedAt = now

	previous := m.level
	m.level = m.classifyLocked()
	levelChanged := m.level != previous
	breached := m.level == models.RiskBreach && !m.halted
	if breached {
		// Set before releasing the lock so concurrent refreshes cannot
		// trigger a second shutdown.
		m.halted = true
	}
	state := m.state
	level := m.level
	m.mu.Unlock()

	if levelChanged {
		m.logger.Info().Str("from", previous.String()).Str("to", level.String()).Msg("Risk level changed")
		logging.LogRiskLevel(m.logger, level.String(), state.Drawdown(), state.DailyLoss())
	}
	if breached {
		m.emergencyShutdown(ctx, state)
	}
	return nil
}

// classifyLocked maps drawdown and daily loss onto a risk level using the
// worse of the two ratios against their limits.
func (m *Monitor) classifyLocked() models.RiskLevel {
	ratio := 0.0
	if m.cfg.MaxDrawdownPct > 0 {
		if r := m.state.Drawdown() / m.cfg.MaxDrawdownPct; r > ratio {
			ratio = r
		}
	}
	if m.cfg.MaxDailyLossPct > 0 {
		if r := m.state.DailyLoss() / m.cfg.MaxDailyLossPct; r > ratio {
			ratio = r
		}
	}

	switch {
	case ratio >= 1:
		return models.RiskBreach
	case ratio >= m.cfg.CriticalRatio:
		return models.RiskCritical
	case ratio >= m.cfg.WarningRatio:
		return models.RiskWarning
	default:
		return models.RiskNormal
	}
}

// emergencyShutdown cancels all open orders and flattens all positions.
// Runs at most once per breach; errors are logged, not retried, since the
// halted flag already blocks new orders.
func (m *Monitor) emergencyShutdown(ctx context.Context, state models.AccountState) {
	m.logger.Error().
		Float64("equity", state.Equity).
		Float64("drawdown", state.Drawdown()).
		Float64("daily_loss", state.DailyLoss()).
		Msg("Risk limit breached, emergency shutdown")

	cancelled, err := m.backend.CancelAllOrders(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Cancelling open orders failed during shutdown")
	}
	closed, err := m.backend.CloseAllPositions(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Flattening positions failed during shutdown")
	}
	m.logger.Warn().
		Int("orders_cancelled", cancelled).
		Int("positions_closed", closed).
		Msg("Trading halted until manual reset")
	m.persistHalt(ctx, true, "risk limit breached")
}

func (m *Monitor) persistHalt(ctx context.Context, halted bool, reason string) {
	if m.halts == nil {
		return
	}
	if err := m.halts.SetHalted(ctx, halted, reason); err != nil {
		m.logger.Warn().Err(err).Msg("Persisting halt flag failed")
	}
}

// TradingAllowed returns nil when order placement is permitted.
func (m *Monitor) TradingAllowed() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.halted {
		return apperrors.ErrTradingHalted
	}
	return nil
}

// Halted reports whether trading is halted.
func (m *Monitor) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// Level returns the current risk level.
func (m *Monitor) Level() models.RiskLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// State returns the latest account snapshot.
func (m *Monitor) State() models.AccountState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Halt manually halts trading without liquidating anything.
func (m *Monitor) Halt(ctx context.Context, reason string) {
	m.mu.Lock()
	m.halted = true
	m.mu.Unlock()
	m.logger.Warn().Str("reason", reason).Msg("Trading halted manually")
	m.persistHalt(ctx, true, reason)
}

// Reset clears the halted flag and re-baselines peak and daily-start
// equity to the current equity so the same breach does not immediately
// re-trigger. Operator action only.
func (m *Monitor) Reset(ctx context.Context) error {
	snapshot, err := m.backend.GetAccount(ctx)
	if err != nil {
		return apperrors.Wrap(err, "fetching account state for reset")
	}

	m.mu.Lock()
	m.halted = false
	m.state.Equity = snapshot.Equity
	m.state.PeakEquity = snapshot.Equity
	m.state.DailyStartEquity = snapshot.Equity
	m.state.DailyPnL = 0
	m.state.RefreshedAt = m.now()
	m.level = models.RiskNormal
	m.mu.Unlock()

	m.logger.Info().Float64("equity", snapshot.Equity).Msg("Risk monitor reset, trading resumed")
	m.persistHalt(ctx, false, "manual reset")
	return nil
}
