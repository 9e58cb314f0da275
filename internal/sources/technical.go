package sources

import (
	"context"
	"fmt"
	"time"

	"consensus-trader/internal/models"
)

// TechnicalSource derives a directional call from simple moving-average and
// momentum rules over recent closing prices.
type TechnicalSource struct {
	BaseSource
	quotes      QuoteProvider
	shortWindow int
	longWindow  int
}

// NewTechnicalSource creates the technical-indicator source.
func NewTechnicalSource(name string, quotes QuoteProvider, marketTTL, offTTL time.Duration) *TechnicalSource {
	return &TechnicalSource{
		BaseSource:  NewBaseSource(name, models.CapabilityTechnical, marketTTL, offTTL),
		quotes:      quotes,
		shortWindow: 5,
		longWindow:  20,
	}
}

// Fetch produces an opinion for the symbol from recent price history.
func (s *TechnicalSource) Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error) {
	started := time.Now()

	closes, err := s.quotes.History(ctx, symbol, s.longWindow)
	if err != nil {
		return models.SourceOpinion{}, err
	}
	if len(closes) < s.shortWindow {
		return models.SourceOpinion{}, fmt.Errorf("insufficient history for %s: %d closes", symbol, len(closes))
	}

	shortMA := sma(closes, s.shortWindow)
	longMA := sma(closes, min(s.longWindow, len(closes)))
	last := closes[len(closes)-1]

	// Crossover spread drives the direction, momentum scales the confidence.
	spread := 0.0
	if longMA > 0 {
		spread = (shortMA - longMA) / longMA * 100
	}
	momentum := 0.0
	if first := closes[0]; first > 0 {
		momentum = (last - first) / first * 100
	}

	direction := models.DirectionNeutral
	confidence := 0.0
	switch {
	case spread > 0.1 && momentum > 0:
		direction = models.DirectionBuy
		confidence = 50 + 10*spread + 2*momentum
	case spread < -0.1 && momentum < 0:
		direction = models.DirectionSell
		confidence = 50 - 10*spread - 2*momentum
	default:
		confidence = 30
	}

	payload := fmt.Sprintf(`{"short_ma":%.4f,"long_ma":%.4f,"spread_pct":%.4f,"momentum_pct":%.4f}`,
		shortMA, longMA, spread, momentum)

	return s.Opinion(symbol, direction, confidence, payload, started), nil
}

func sma(closes []float64, window int) float64 {
	if window <= 0 || window > len(closes) {
		window = len(closes)
	}
	var sum float64
	for _, c := range closes[len(closes)-window:] {
		sum += c
	}
	return sum / float64(window)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
