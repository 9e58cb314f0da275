package models

import "time"

// AccountState is a snapshot of account health, refreshed each risk-monitor
// tick from the execution backend. Read-only to all other components.
type AccountState struct {
	Equity           float64
	PeakEquity       float64
	DailyStartEquity float64
	BuyingPower      float64
	OpenPositions    int
	DailyPnL         float64
	RefreshedAt      time.Time
}

// Drawdown returns the fractional decline from peak equity.
func (a AccountState) Drawdown() float64 {
	if a.PeakEquity <= 0 {
		return 0
	}
	dd := (a.PeakEquity - a.Equity) / a.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// DailyLoss returns the fractional loss since the daily starting equity.
func (a AccountState) DailyLoss() float64 {
	if a.DailyStartEquity <= 0 {
		return 0
	}
	dl := (a.DailyStartEquity - a.Equity) / a.DailyStartEquity
	if dl < 0 {
		return 0
	}
	return dl
}

// RiskLevel is the ordered account risk classification.
type RiskLevel int

const (
	RiskNormal RiskLevel = iota
	RiskWarning
	RiskCritical
	RiskBreach
)

func (r RiskLevel) String() string {
	switch r {
	case RiskNormal:
		return "NORMAL"
	case RiskWarning:
		return "WARNING"
	case RiskCritical:
		return "CRITICAL"
	case RiskBreach:
		return "BREACH"
	}
	return "UNKNOWN"
}
