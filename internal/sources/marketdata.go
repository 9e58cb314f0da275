package sources

import (
	"context"
	"fmt"
	"time"

	"consensus-trader/internal/models"
)

// MarketDataSource derives a directional call from the live quote: gap from
// the previous close and position within the day's range.
type MarketDataSource struct {
	BaseSource
	quotes QuoteProvider
}

// NewMarketDataSource creates the market-data source.
func NewMarketDataSource(name string, quotes QuoteProvider, marketTTL, offTTL time.Duration) *MarketDataSource {
	return &MarketDataSource{
		BaseSource: NewBaseSource(name, models.CapabilityMarketData, marketTTL, offTTL),
		quotes:     quotes,
	}
}

// Fetch produces an opinion for the symbol from the current quote.
func (s *MarketDataSource) Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error) {
	started := time.Now()

	q, err := s.quotes.Quote(ctx, symbol)
	if err != nil {
		return models.SourceOpinion{}, err
	}
	if q.Price <= 0 {
		return models.SourceOpinion{}, fmt.Errorf("quote for %s has no price", symbol)
	}

	changePct := 0.0
	if q.PrevClose > 0 {
		changePct = (q.Price - q.PrevClose) / q.PrevClose * 100
	}

	// Position of the last price within the day's range, 0 at the low and
	// 1 at the high. A close near an extreme supports the move.
	rangePos := 0.5
	if q.High > q.Low {
		rangePos = (q.Price - q.Low) / (q.High - q.Low)
	}

	direction := models.DirectionNeutral
	confidence := 25.0
	switch {
	case changePct > 0.2 && rangePos > 0.6:
		direction = models.DirectionBuy
		confidence = 40 + 15*changePct + 30*(rangePos-0.5)
	case changePct < -0.2 && rangePos < 0.4:
		direction = models.DirectionSell
		confidence = 40 - 15*changePct + 30*(0.5-rangePos)
	}

	payload := fmt.Sprintf(`{"price":%.4f,"prev_close":%.4f,"change_pct":%.4f,"range_pos":%.4f}`,
		q.Price, q.PrevClose, changePct, rangePos)

	return s.Opinion(symbol, direction, confidence, payload, started), nil
}
