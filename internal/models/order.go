package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status is a terminal state.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Bracket holds the exit order IDs attached to a filled entry order.
type Bracket struct {
	StopOrderID   string
	TargetOrderID string
}

// Order represents a trading order created from an approved signal.
// Mutated only by the execution engine as status updates arrive.
type Order struct {
	ID          string
	SignalID    string
	Symbol      string
	Side        OrderSide
	Qty         float64
	Type        OrderType
	LimitPrice  float64
	Status      OrderStatus
	RetryCount  int
	Bracket     Bracket
	FilledPrice float64
	PlacedAt    time.Time
	UpdatedAt   time.Time
}

// OrderRequest is the submission payload sent to the execution backend.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Qty        float64
	Type       OrderType
	LimitPrice float64 // required for LIMIT
	StopPrice  float64 // trigger price for stop exit orders
	Tag        string  // free-form tag, carries the signal ID
}

// Position represents an open trading position.
type Position struct {
	Symbol       string
	Qty          float64 // negative for short
	AveragePrice float64
	CurrentPrice float64
	UnrealizedPL float64
	Group        string // correlation group, empty if ungrouped
}

// ClosingSide returns the order side that would close the position.
func (p Position) ClosingSide() OrderSide {
	if p.Qty > 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}
