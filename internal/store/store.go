// Package store provides signal and order persistence.
package store

import (
	"context"

	"consensus-trader/internal/models"
)

// SignalStore persists generated signals, their orders and outcomes, and
// the adaptive source weights.
type SignalStore interface {
	SaveSignal(ctx context.Context, signal models.Signal) error
	GetSignal(ctx context.Context, id string) (models.Signal, error)
	RecentSignals(ctx context.Context, symbol string, limit int) ([]models.Signal, error)

	SaveOrder(ctx context.Context, order models.Order) error
	OrdersForSignal(ctx context.Context, signalID string) ([]models.Order, error)

	SaveOutcome(ctx context.Context, outcome models.SignalOutcome) error
	SourceStats(ctx context.Context) ([]SourceStat, error)

	SaveWeights(ctx context.Context, weights []models.SourceWeight) error
	LoadWeights(ctx context.Context) (map[string]float64, error)

	// SetHalted persists the trading-halt flag so a halt survives restarts.
	SetHalted(ctx context.Context, halted bool, reason string) error
	Halted(ctx context.Context) (bool, string, error)

	Close() error
}

// SourceStat summarizes a source's recorded outcome history.
type SourceStat struct {
	SourceID string
	Total    int
	Correct  int
}

// HitRate returns the fraction of correct outcomes.
func (s SourceStat) HitRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}
