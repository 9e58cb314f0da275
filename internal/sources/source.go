// Package sources provides data-source adapters that produce directional
// opinions for the consensus engine.
package sources

import (
	"context"
	"time"

	"consensus-trader/internal/models"
)

// Source is the uniform capability implemented by every data source. A fetch
// returns one opinion for one symbol; failures are reported as errors and
// handled by the orchestrator's circuit breaker.
type Source interface {
	// Name returns the unique source ID.
	Name() string
	// Capability classifies the kind of data the source provides.
	Capability() models.Capability
	// CacheTTL returns the default opinion TTLs for market hours and off-hours.
	CacheTTL() (marketHours, offHours time.Duration)
	// Fetch produces an opinion for the symbol.
	Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error)
}

// Quote is a market snapshot for one symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	Volume    int64
	Timestamp time.Time
}

// QuoteProvider supplies market data to the shipped adapters.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	// History returns up to n recent closing prices, oldest first.
	History(ctx context.Context, symbol string, n int) ([]float64, error)
}

// Headline is one news item with a precomputed sentiment score in [-1, 1].
type Headline struct {
	Title       string
	Sentiment   float64
	Relevance   float64 // 0-1
	PublishedAt time.Time
}

// NewsProvider supplies headlines to the sentiment adapter.
type NewsProvider interface {
	Headlines(ctx context.Context, symbol string, limit int) ([]Headline, error)
}

// BaseSource provides common fields for adapters.
type BaseSource struct {
	name       string
	capability models.Capability
	marketTTL  time.Duration
	offTTL     time.Duration
}

// NewBaseSource creates the shared adapter base.
func NewBaseSource(name string, capability models.Capability, marketTTL, offTTL time.Duration) BaseSource {
	return BaseSource{
		name:       name,
		capability: capability,
		marketTTL:  marketTTL,
		offTTL:     offTTL,
	}
}

// Name returns the source ID.
func (b *BaseSource) Name() string { return b.name }

// Capability returns the source capability tag.
func (b *BaseSource) Capability() models.Capability { return b.capability }

// CacheTTL returns the default cache TTL pair.
func (b *BaseSource) CacheTTL() (time.Duration, time.Duration) {
	return b.marketTTL, b.offTTL
}

// Opinion builds an opinion stamped with the source identity and fetch time.
func (b *BaseSource) Opinion(symbol string, direction models.Direction, confidence float64, payload string, started time.Time) models.SourceOpinion {
	return models.SourceOpinion{
		SourceID:   b.name,
		Symbol:     symbol,
		Direction:  direction,
		Confidence: ClampConfidence(confidence),
		RawPayload: payload,
		FetchedAt:  time.Now(),
		LatencyMS:  time.Since(started).Milliseconds(),
	}
}

// ClampConfidence ensures confidence is within [0, 100].
func ClampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}
