// Package broker provides execution backend interfaces and implementations.
package broker

import (
	"context"

	"consensus-trader/internal/models"
)

// ExecutionBackend defines the interface to the venue that executes orders
// and reports account state. Implementations must be safe for concurrent use.
type ExecutionBackend interface {
	// Orders
	SubmitOrder(ctx context.Context, req models.OrderRequest) (SubmitResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) (int, error)
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	GetOpenOrders(ctx context.Context) ([]models.Order, error)

	// Positions
	GetPositions(ctx context.Context) ([]models.Position, error)
	ClosePosition(ctx context.Context, symbol string) error
	CloseAllPositions(ctx context.Context) (int, error)

	// Account
	GetAccount(ctx context.Context) (models.AccountState, error)
}

// SubmitResult is the immediate outcome of an order submission.
type SubmitResult struct {
	OrderID     string
	Status      models.OrderStatus
	FilledPrice float64
	Message     string
}
