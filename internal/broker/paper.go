package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

// PaperBackend implements ExecutionBackend with simulated fills for paper
// trading. Market orders fill immediately at the cached price; limit and
// stop orders rest until a price update crosses them.
type PaperBackend struct {
	mu sync.RWMutex

	cash      float64
	orders    map[string]*models.Order
	resting   map[string]*restingOrder
	positions map[string]*models.Position
	prices    map[string]float64
	groups    map[string]string

	orderCounter int
}

type restingOrder struct {
	order     *models.Order
	stopPrice float64
}

// PaperBackendConfig holds configuration for the paper backend.
type PaperBackendConfig struct {
	InitialEquity float64
	// CorrelationGroups maps symbol to correlation group name.
	CorrelationGroups map[string]string
}

// NewPaperBackend creates a paper backend with the given starting equity.
func NewPaperBackend(cfg PaperBackendConfig) *PaperBackend {
	equity := cfg.InitialEquity
	if equity <= 0 {
		equity = 100000
	}
	groups := cfg.CorrelationGroups
	if groups == nil {
		groups = make(map[string]string)
	}
	return &PaperBackend{
		cash:      equity,
		orders:    make(map[string]*models.Order),
		resting:   make(map[string]*restingOrder),
		positions: make(map[string]*models.Position),
		prices:    make(map[string]float64),
		groups:    groups,
	}
}

// UpdatePrice sets the current price for a symbol and fills any resting
// orders the new price crosses.
func (p *PaperBackend) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
	p.fillRestingLocked(symbol, price)
}

// SubmitOrder simulates order placement.
func (p *PaperBackend) SubmitOrder(ctx context.Context, req models.OrderRequest) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	if req.Qty <= 0 {
		return SubmitResult{}, apperrors.NewOrderError("", req.Symbol, "submit", "non-positive quantity", apperrors.ErrOrderRejected)
	}
	if req.Type == models.OrderTypeLimit && req.LimitPrice <= 0 && req.StopPrice <= 0 {
		return SubmitResult{}, apperrors.NewOrderError("", req.Symbol, "submit", "limit order without price", apperrors.ErrOrderRejected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)
	now := time.Now()

	order := &models.Order{
		ID:         orderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Qty,
		Type:       req.Type,
		LimitPrice: req.LimitPrice,
		SignalID:   req.Tag,
		Status:     models.OrderStatusSubmitted,
		PlacedAt:   now,
		UpdatedAt:  now,
	}
	p.orders[orderID] = order

	price := p.prices[req.Symbol]

	// Stop exits and non-marketable limits rest until a price crossing.
	if req.StopPrice > 0 {
		p.resting[orderID] = &restingOrder{order: order, stopPrice: req.StopPrice}
		return SubmitResult{OrderID: orderID, Status: order.Status, Message: "stop order resting"}, nil
	}
	if req.Type == models.OrderTypeLimit && !limitMarketable(req.Side, req.LimitPrice, price) {
		p.resting[orderID] = &restingOrder{order: order}
		return SubmitResult{OrderID: orderID, Status: order.Status, Message: "limit order resting"}, nil
	}

	execPrice := price
	if req.Type == models.OrderTypeLimit {
		execPrice = req.LimitPrice
	}
	if execPrice <= 0 {
		order.Status = models.OrderStatusRejected
		order.UpdatedAt = time.Now()
		return SubmitResult{}, apperrors.NewOrderError(orderID, req.Symbol, "submit", "no market price available", apperrors.ErrOrderRejected)
	}

	if req.Side == models.OrderSideBuy {
		cost := execPrice * req.Qty
		if cost > p.cash {
			order.Status = models.OrderStatusRejected
			order.UpdatedAt = time.Now()
			return SubmitResult{}, apperrors.Wrapf(apperrors.ErrInsufficientFunds,
				"order %s needs %.2f, available %.2f", orderID, cost, p.cash)
		}
	}

	p.fillLocked(order, execPrice)
	return SubmitResult{
		OrderID:     orderID,
		Status:      order.Status,
		FilledPrice: execPrice,
		Message:     "paper order filled",
	}, nil
}

// CancelOrder cancels a resting order.
func (p *PaperBackend) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return apperrors.NewOrderError(orderID, "", "cancel", "unknown order", apperrors.ErrDataNotFound)
	}
	if order.Status.IsTerminal() {
		return apperrors.NewOrderError(orderID, order.Symbol, "cancel",
			fmt.Sprintf("order already %s", order.Status), nil)
	}
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	delete(p.resting, orderID)
	return nil
}

// CancelAllOrders cancels every non-terminal order and returns the count.
func (p *PaperBackend) CancelAllOrders(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cancelled := 0
	for id, order := range p.orders {
		if order.Status.IsTerminal() {
			continue
		}
		order.Status = models.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		delete(p.resting, id)
		cancelled++
	}
	return cancelled, nil
}

// GetOrder returns the order with the given ID.
func (p *PaperBackend) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[orderID]
	if !ok {
		return models.Order{}, apperrors.NewOrderError(orderID, "", "get", "unknown order", apperrors.ErrDataNotFound)
	}
	return *order, nil
}

// GetOpenOrders returns all non-terminal orders.
func (p *PaperBackend) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	open := make([]models.Order, 0)
	for _, order := range p.orders {
		if !order.Status.IsTerminal() {
			open = append(open, *order)
		}
	}
	return open, nil
}

// GetPositions returns all open positions with marked-to-market P&L.
func (p *PaperBackend) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		snap := *pos
		if price := p.prices[pos.Symbol]; price > 0 {
			snap.CurrentPrice = price
			snap.UnrealizedPL = (price - pos.AveragePrice) * pos.Qty
		}
		positions = append(positions, snap)
	}
	return positions, nil
}

// ClosePosition closes the position in the symbol at the current price.
func (p *PaperBackend) ClosePosition(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closePositionLocked(symbol)
}

// CloseAllPositions closes every open position and returns the count.
func (p *PaperBackend) CloseAllPositions(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	symbols := make([]string, 0, len(p.positions))
	for symbol := range p.positions {
		symbols = append(symbols, symbol)
	}
	closed := 0
	for _, symbol := range symbols {
		if err := p.closePositionLocked(symbol); err == nil {
			closed++
		}
	}
	return closed, nil
}

// GetAccount returns an account snapshot. Peak and daily-start equity are
// tracked by the risk monitor, not here.
func (p *PaperBackend) GetAccount(ctx context.Context) (models.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return models.AccountState{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.cash
	for _, pos := range p.positions {
		price := p.prices[pos.Symbol]
		if price <= 0 {
			price = pos.AveragePrice
		}
		equity += price * pos.Qty
	}
	return models.AccountState{
		Equity:        equity,
		BuyingPower:   p.cash,
		OpenPositions: len(p.positions),
		RefreshedAt:   time.Now(),
	}, nil
}

func (p *PaperBackend) closePositionLocked(symbol string) error {
	pos, ok := p.positions[symbol]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrPositionNotFound, "symbol %s", symbol)
	}
	price := p.prices[symbol]
	if price <= 0 {
		price = pos.AveragePrice
	}
	p.cash += price * pos.Qty
	delete(p.positions, symbol)
	return nil
}

// fillLocked marks the order filled at execPrice and applies the fill to
// cash and positions. Callers hold the write lock.
func (p *PaperBackend) fillLocked(order *models.Order, execPrice float64) {
	order.Status = models.OrderStatusFilled
	order.FilledPrice = execPrice
	order.UpdatedAt = time.Now()
	delete(p.resting, order.ID)

	signedQty := order.Qty
	if order.Side == models.OrderSideSell {
		signedQty = -order.Qty
	}
	p.cash -= execPrice * signedQty

	pos, exists := p.positions[order.Symbol]
	if !exists {
		pos = &models.Position{
			Symbol: order.Symbol,
			Group:  p.groups[order.Symbol],
		}
		p.positions[order.Symbol] = pos
	}

	newQty := pos.Qty + signedQty
	switch {
	case newQty == 0:
		delete(p.positions, order.Symbol)
		return
	case pos.Qty == 0 || sameSign(pos.Qty, signedQty):
		totalCost := pos.AveragePrice*pos.Qty + execPrice*signedQty
		pos.Qty = newQty
		pos.AveragePrice = totalCost / newQty
	default:
		// Reduced or flipped; a flip resets the basis to the fill price.
		pos.Qty = newQty
		if !sameSign(newQty, pos.Qty-signedQty) {
			pos.AveragePrice = execPrice
		}
	}
	pos.CurrentPrice = execPrice
	pos.UnrealizedPL = (execPrice - pos.AveragePrice) * pos.Qty
}

// fillRestingLocked fills resting orders crossed by the new price.
func (p *PaperBackend) fillRestingLocked(symbol string, price float64) {
	for id, rest := range p.resting {
		order := rest.order
		if order.Symbol != symbol {
			continue
		}
		switch {
		case rest.stopPrice > 0:
			if stopTriggered(order.Side, rest.stopPrice, price) {
				p.fillLocked(order, price)
			}
		case order.Type == models.OrderTypeLimit:
			if limitMarketable(order.Side, order.LimitPrice, price) {
				p.fillLocked(order, order.LimitPrice)
			}
		default:
			delete(p.resting, id)
		}
	}
}

func limitMarketable(side models.OrderSide, limit, price float64) bool {
	if price <= 0 || limit <= 0 {
		return false
	}
	if side == models.OrderSideBuy {
		return price <= limit
	}
	return price >= limit
}

func stopTriggered(side models.OrderSide, stop, price float64) bool {
	// A sell stop protects a long and triggers on a fall; a buy stop
	// protects a short and triggers on a rise.
	if side == models.OrderSideSell {
		return price <= stop
	}
	return price >= stop
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

var _ ExecutionBackend = (*PaperBackend)(nil)
