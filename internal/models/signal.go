// Package models defines the core data types shared across the trading system.
package models

import "time"

// Direction represents a directional call on an instrument.
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
)

// Sign returns the signed multiplier for a direction: BUY=+1, SELL=-1, NEUTRAL=0.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	default:
		return 0
	}
}

// Capability classifies what kind of data a source provides.
type Capability string

const (
	CapabilityMarketData Capability = "market_data"
	CapabilityTechnical  Capability = "technical"
	CapabilitySentiment  Capability = "sentiment"
	CapabilityAIAnalysis Capability = "ai_analysis"
)

// SourceOpinion is one data source's directional call with a confidence score.
// Opinions are immutable once created and are discarded after consensus.
type SourceOpinion struct {
	SourceID   string
	Symbol     string
	Direction  Direction
	Confidence float64 // 0-100
	RawPayload string
	FetchedAt  time.Time
	LatencyMS  int64
}

// ContributingSource records how one source entered a signal's consensus.
type ContributingSource struct {
	SourceID   string
	Weight     float64 // renormalized weight used in fusion
	Direction  Direction
	Confidence float64
}

// Signal is the fused directional decision for one symbol in one cycle.
// It is immutable once created.
type Signal struct {
	ID                  string
	Symbol              string
	Direction           Direction
	Confidence          float64 // 0-100, post regime adjustment
	RawConfidence       float64 // 0-100, pre regime adjustment
	NetScore            float64 // signed, [-100, 100]
	EntryPrice          float64
	StopPrice           float64
	TargetPrice         float64
	Tradable            bool
	Reason              string // why the signal is non-tradable, if it is
	ContributingSources []ContributingSource
	GeneratedAt         time.Time
}

// NoSources reports whether the signal was generated with zero contributing
// sources (the explicit "no sources available" marker).
func (s *Signal) NoSources() bool {
	return len(s.ContributingSources) == 0
}

// SourceWeight tracks a source's consensus weight and rolling accuracy.
type SourceWeight struct {
	SourceID        string
	Weight          float64 // within [min_weight, max_weight], normalized over enabled sources
	RollingAccuracy float64 // 0-1 exponential moving average of outcome correctness
}

// SignalOutcome reports whether a past signal's direction proved correct for
// one contributing source. Supplied by the external outcome tracker.
type SignalOutcome struct {
	SignalID   string
	SourceID   string
	WasCorrect bool
	Confidence float64
	ReportedAt time.Time
}
