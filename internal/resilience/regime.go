package resilience

import (
	"math"
	"sync"
	"time"
)

// MarketRegime classifies current market volatility.
type MarketRegime string

const (
	RegimeCalm     MarketRegime = "CALM"
	RegimeNormal   MarketRegime = "NORMAL"
	RegimeVolatile MarketRegime = "VOLATILE"
	RegimeChoppy   MarketRegime = "CHOPPY"
	RegimeUnknown  MarketRegime = "UNKNOWN"
)

// RegimeConfig holds configuration for regime detection.
type RegimeConfig struct {
	// Window is the number of recent returns used for realized volatility.
	Window int
	// VolatileRatio is the realized/reference volatility ratio above which the
	// regime is VOLATILE.
	VolatileRatio float64
	// ChoppyFlipRatio is the fraction of sign flips among recent returns above
	// which the regime is CHOPPY.
	ChoppyFlipRatio float64

	// Confidence multipliers per regime. All must be in (0, 1]; regime
	// adjustment only ever reduces confidence.
	NormalAdjustment   float64
	VolatileAdjustment float64
	ChoppyAdjustment   float64
}

// DefaultRegimeConfig returns default regime detection configuration.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		Window:             20,
		VolatileRatio:      1.5,
		ChoppyFlipRatio:    0.6,
		NormalAdjustment:   1.0,
		VolatileAdjustment: 0.7,
		ChoppyAdjustment:   0.85,
	}
}

// RegimeDetector tracks per-symbol price history and classifies the current
// volatility regime.
type RegimeDetector struct {
	mu     sync.RWMutex
	config RegimeConfig

	prices     map[string][]float64
	refVol     map[string]float64 // long-run reference volatility per symbol
	lastUpdate time.Time
}

// NewRegimeDetector creates a new regime detector.
func NewRegimeDetector(config RegimeConfig) *RegimeDetector {
	if config.Window <= 1 {
		config.Window = 20
	}
	return &RegimeDetector{
		config: config,
		prices: make(map[string][]float64),
		refVol: make(map[string]float64),
	}
}

// Observe records a price observation for the symbol.
func (d *RegimeDetector) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	hist := append(d.prices[symbol], price)
	// Keep twice the window so the reference volatility has something to
	// settle against.
	if max := d.config.Window * 2; len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	d.prices[symbol] = hist
	d.lastUpdate = time.Now()

	if vol := realizedVol(hist); vol > 0 {
		if ref, ok := d.refVol[symbol]; ok {
			d.refVol[symbol] = 0.95*ref + 0.05*vol
		} else {
			d.refVol[symbol] = vol
		}
	}
}

// Regime returns the current regime classification for the symbol.
func (d *RegimeDetector) Regime(symbol string) MarketRegime {
	d.mu.RLock()
	defer d.mu.RUnlock()

	hist := d.prices[symbol]
	if len(hist) < d.config.Window/2 {
		return RegimeUnknown
	}

	returns := toReturns(hist)
	flips := signFlips(returns)
	if len(returns) > 0 && float64(flips)/float64(len(returns)) >= d.config.ChoppyFlipRatio {
		return RegimeChoppy
	}

	vol := realizedVol(hist)
	ref := d.refVol[symbol]
	if ref > 0 && vol/ref >= d.config.VolatileRatio {
		return RegimeVolatile
	}
	if ref > 0 && vol/ref <= 0.5 {
		return RegimeCalm
	}
	return RegimeNormal
}

// RelativeVolatility returns the symbol's realized volatility divided by its
// reference volatility, or 1 when unknown. The execution engine uses this for
// inverse volatility position sizing.
func (d *RegimeDetector) RelativeVolatility(symbol string) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	hist := d.prices[symbol]
	ref := d.refVol[symbol]
	if len(hist) < 2 || ref <= 0 {
		return 1
	}
	vol := realizedVol(hist)
	if vol <= 0 {
		return 1
	}
	return vol / ref
}

// Adjustment returns the confidence multiplier for the symbol's current
// regime. The result never exceeds 1.
func (d *RegimeDetector) Adjustment(symbol string) float64 {
	var m float64
	switch d.Regime(symbol) {
	case RegimeVolatile:
		m = d.config.VolatileAdjustment
	case RegimeChoppy:
		m = d.config.ChoppyAdjustment
	default:
		m = d.config.NormalAdjustment
	}
	if m > 1 || m <= 0 {
		m = 1
	}
	return m
}

func toReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	return returns
}

func realizedVol(prices []float64) float64 {
	returns := toReturns(prices)
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func signFlips(returns []float64) int {
	flips := 0
	for i := 1; i < len(returns); i++ {
		if returns[i]*returns[i-1] < 0 {
			flips++
		}
	}
	return flips
}
