// Package execution turns tradable signals into sized, bracketed orders.
package execution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/config"
	apperrors "consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/models"
	"consensus-trader/pkg/utils"
)

// VolatilityProvider supplies a symbol's volatility relative to its own
// recent baseline. 1 means typical, above 1 more volatile.
type VolatilityProvider interface {
	RelativeVolatility(symbol string) float64
}

// RiskGate is the pre-trade check the engine consults before any order.
type RiskGate interface {
	TradingAllowed() error
	State() models.AccountState
}

// Engine sizes and submits orders for tradable signals, attaching bracket
// exits once the entry fills.
type Engine struct {
	cfg     config.ExecutionConfig
	backend broker.ExecutionBackend
	gate    RiskGate
	vol     VolatilityProvider
	logger  zerolog.Logger

	mu       sync.Mutex
	brackets map[string]models.Bracket // symbol -> active exit orders

	stop chan struct{}
	done chan struct{}
}

// NewEngine creates an execution engine. vol may be nil to disable
// volatility scaling.
func NewEngine(cfg config.ExecutionConfig, backend broker.ExecutionBackend, gate RiskGate, vol VolatilityProvider, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		backend:  backend,
		gate:     gate,
		vol:      vol,
		logger:   logger,
		brackets: make(map[string]models.Bracket),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Execute places an order for a tradable signal: risk gate, exposure
// check, sizing, submission with retries, then bracket exits on fill.
func (e *Engine) Execute(ctx context.Context, signal models.Signal) (models.Order, error) {
	if !signal.Tradable {
		return models.Order{}, apperrors.Wrapf(apperrors.ErrNotTradable, "signal %s: %s", signal.ID, signal.Reason)
	}
	if err := e.gate.TradingAllowed(); err != nil {
		return models.Order{}, err
	}
	if err := e.checkExposure(ctx, signal.Symbol); err != nil {
		return models.Order{}, err
	}

	qty, err := e.positionSize(signal)
	if err != nil {
		return models.Order{}, err
	}

	req := e.buildRequest(signal, qty)
	result, attempts, err := e.submitWithRetry(ctx, req)
	if err != nil {
		return models.Order{}, apperrors.NewOrderError("", signal.Symbol, "submit",
			fmt.Sprintf("failed after %d attempts", attempts), err)
	}

	order := models.Order{
		ID:          result.OrderID,
		SignalID:    signal.ID,
		Symbol:      signal.Symbol,
		Side:        req.Side,
		Qty:         qty,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		Status:      result.Status,
		RetryCount:  attempts - 1,
		FilledPrice: result.FilledPrice,
		PlacedAt:    time.Now(),
		UpdatedAt:   time.Now(),
	}
	logging.LogOrder(e.logger, order.ID, order.Symbol, string(order.Side), string(order.Status))

	if order.Status == models.OrderStatusFilled {
		bracket, err := e.placeBrackets(ctx, signal, order)
		if err != nil {
			e.logger.Error().Err(err).Str("order_id", order.ID).Msg("Placing bracket exits failed")
		} else {
			order.Bracket = bracket
			e.mu.Lock()
			e.brackets[signal.Symbol] = bracket
			e.mu.Unlock()
		}
	}

	return order, nil
}

// checkExposure rejects symbols that already carry a position and
// enforces the correlated-position cap per group.
func (e *Engine) checkExposure(ctx context.Context, symbol string) error {
	positions, err := e.backend.GetPositions(ctx)
	if err != nil {
		return apperrors.Wrap(err, "fetching positions for exposure check")
	}

	group := e.cfg.CorrelationGroups[symbol]
	inGroup := 0
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return apperrors.Wrapf(apperrors.ErrExposureLimit, "position already open in %s", symbol)
		}
		if group != "" && pos.Group == group {
			inGroup++
		}
	}
	if group != "" && e.cfg.MaxCorrelatedPositions > 0 && inGroup >= e.cfg.MaxCorrelatedPositions {
		return apperrors.Wrapf(apperrors.ErrExposureLimit,
			"group %s already holds %d positions", group, inGroup)
	}
	return nil
}

// positionSize converts a signal into a share quantity: a base fraction
// of equity scaled up by confidence and down by relative volatility,
// capped at the maximum position fraction.
func (e *Engine) positionSize(signal models.Signal) (float64, error) {
	account := e.gate.State()
	if account.Equity <= 0 {
		return 0, apperrors.Wrap(apperrors.ErrInsufficientFunds, "account equity unknown")
	}
	if signal.EntryPrice <= 0 {
		return 0, apperrors.NewValidationError("entry_price", signal.EntryPrice, "entry price required for sizing")
	}

	notional := account.Equity * e.cfg.BasePositionPct / 100
	notional *= e.confidenceMultiplier(signal.Confidence)
	notional *= e.volatilityMultiplier(signal.Symbol)

	maxNotional := account.Equity * e.cfg.MaxPositionPct / 100
	if maxNotional > 0 && notional > maxNotional {
		notional = maxNotional
	}
	if notional > account.BuyingPower {
		notional = account.BuyingPower
	}

	qty := math.Floor(notional/signal.EntryPrice*1e4) / 1e4
	if qty <= 0 {
		return 0, apperrors.Wrapf(apperrors.ErrInsufficientFunds,
			"notional %.2f too small at price %.2f", notional, signal.EntryPrice)
	}
	return qty, nil
}

// confidenceMultiplier scales linearly from 1.0 at the minimum tradable
// confidence up to ConfidenceCap at confidence 100. A signal at exactly
// the threshold sizes at the base fraction.
func (e *Engine) confidenceMultiplier(confidence float64) float64 {
	peak := e.cfg.ConfidenceCap
	if peak <= 1 {
		return 1
	}
	floor := e.cfg.MinTradableConfidence
	if floor < 0 || floor >= 100 {
		floor = 0
	}
	c := clamp(confidence, floor, 100)
	return 1 + (peak-1)*(c-floor)/(100-floor)
}

// volatilityMultiplier shrinks size in proportion to elevated volatility
// and allows a modest boost in quiet markets.
func (e *Engine) volatilityMultiplier(symbol string) float64 {
	if e.vol == nil {
		return 1
	}
	rel := e.vol.RelativeVolatility(symbol)
	if rel <= 0 {
		return 1
	}
	upper := e.cfg.VolatilityCap
	if upper <= 0 {
		upper = 1.5
	}
	return clamp(1/rel, 0.25, upper)
}

func (e *Engine) buildRequest(signal models.Signal, qty float64) models.OrderRequest {
	side := models.OrderSideBuy
	if signal.Direction == models.DirectionSell {
		side = models.OrderSideSell
	}

	req := models.OrderRequest{
		Symbol: signal.Symbol,
		Side:   side,
		Qty:    qty,
		Type:   models.OrderTypeMarket,
		Tag:    signal.ID,
	}
	if strings.EqualFold(e.cfg.OrderType, string(models.OrderTypeLimit)) {
		req.Type = models.OrderTypeLimit
		// Marketable limit: cross the spread by the offset so the order
		// fills while still bounding slippage.
		offset := signal.EntryPrice * e.cfg.LimitOffsetPct / 100
		if side == models.OrderSideBuy {
			req.LimitPrice = signal.EntryPrice + offset
		} else {
			req.LimitPrice = signal.EntryPrice - offset
		}
	}
	return req
}

// submitWithRetry submits the order with a linear retry schedule and
// returns the result with the number of attempts made. Rejections and
// funding failures are not retried.
func (e *Engine) submitWithRetry(ctx context.Context, req models.OrderRequest) (broker.SubmitResult, int, error) {
	retryCfg := utils.RetryConfig{
		MaxAttempts:  e.cfg.MaxRetryAttempts,
		InitialDelay: e.cfg.RetryBaseDelay,
		Linear:       true,
		Permanent: func(err error) bool {
			return apperrors.Is(err, apperrors.ErrOrderRejected) ||
				apperrors.Is(err, apperrors.ErrInsufficientFunds)
		},
	}
	if retryCfg.MaxAttempts <= 0 {
		retryCfg.MaxAttempts = 1
	}

	attempts := 0
	result, err := utils.RetryWithResult(ctx, retryCfg, func() (broker.SubmitResult, error) {
		attempts++
		submitCtx := ctx
		if e.cfg.SubmitTimeout > 0 {
			var cancel context.CancelFunc
			submitCtx, cancel = context.WithTimeout(ctx, e.cfg.SubmitTimeout)
			defer cancel()
		}
		res, err := e.backend.SubmitOrder(submitCtx, req)
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", req.Symbol).Int("attempt", attempts).Msg("Order submission failed")
		}
		return res, err
	})
	return result, attempts, err
}

// placeBrackets submits the stop and target exit orders for a fill.
func (e *Engine) placeBrackets(ctx context.Context, signal models.Signal, entry models.Order) (models.Bracket, error) {
	var bracket models.Bracket
	if signal.StopPrice <= 0 && signal.TargetPrice <= 0 {
		return bracket, nil
	}

	exitSide := models.OrderSideSell
	if entry.Side == models.OrderSideSell {
		exitSide = models.OrderSideBuy
	}

	if signal.StopPrice > 0 {
		stopRes, err := e.backend.SubmitOrder(ctx, models.OrderRequest{
			Symbol:    signal.Symbol,
			Side:      exitSide,
			Qty:       entry.Qty,
			Type:      models.OrderTypeMarket,
			StopPrice: signal.StopPrice,
			Tag:       signal.ID,
		})
		if err != nil {
			return bracket, apperrors.Wrap(err, "placing stop order")
		}
		bracket.StopOrderID = stopRes.OrderID
	}

	if signal.TargetPrice > 0 {
		targetRes, err := e.backend.SubmitOrder(ctx, models.OrderRequest{
			Symbol:     signal.Symbol,
			Side:       exitSide,
			Qty:        entry.Qty,
			Type:       models.OrderTypeLimit,
			LimitPrice: signal.TargetPrice,
			Tag:        signal.ID,
		})
		if err != nil {
			return bracket, apperrors.Wrap(err, "placing target order")
		}
		bracket.TargetOrderID = targetRes.OrderID
	}

	e.logger.Info().
		Str("symbol", signal.Symbol).
		Str("stop_order", bracket.StopOrderID).
		Str("target_order", bracket.TargetOrderID).
		Msg("Bracket exits placed")
	return bracket, nil
}

// StartMonitor launches the background position monitor, which cancels
// the surviving bracket leg once a position is closed by the other.
func (e *Engine) StartMonitor(ctx context.Context) {
	go e.monitor(ctx)
}

// StopMonitor shuts down the position monitor.
func (e *Engine) StopMonitor() {
	close(e.stop)
	<-e.done
}

func (e *Engine) monitor(ctx context.Context) {
	defer close(e.done)

	interval := e.cfg.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.reconcileBrackets(ctx)
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reconcileBrackets cancels leftover exit orders for symbols whose
// position no longer exists.
func (e *Engine) reconcileBrackets(ctx context.Context) {
	positions, err := e.backend.GetPositions(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Position refresh failed in bracket monitor")
		return
	}
	open := make(map[string]bool, len(positions))
	for _, pos := range positions {
		open[pos.Symbol] = true
	}

	e.mu.Lock()
	orphaned := make(map[string]models.Bracket)
	for symbol, bracket := range e.brackets {
		if !open[symbol] {
			orphaned[symbol] = bracket
			delete(e.brackets, symbol)
		}
	}
	e.mu.Unlock()

	for symbol, bracket := range orphaned {
		for _, orderID := range []string{bracket.StopOrderID, bracket.TargetOrderID} {
			if orderID == "" {
				continue
			}
			if err := e.cancelIfOpen(ctx, orderID); err != nil {
				e.logger.Warn().Err(err).Str("order_id", orderID).Str("symbol", symbol).Msg("Cancelling orphaned bracket leg failed")
			}
		}
		e.logger.Debug().Str("symbol", symbol).Msg("Bracket orders reconciled after position close")
	}
}

func (e *Engine) cancelIfOpen(ctx context.Context, orderID string) error {
	order, err := e.backend.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return nil
	}
	return e.backend.CancelOrder(ctx, orderID)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
