// Package consensus fuses per-source opinions into a single weighted
// trading signal and adapts source weights from reported outcomes.
package consensus

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"consensus-trader/internal/models"
)

// RegimePolicy scales signal confidence down in adverse market regimes.
// Adjustment returns a factor in (0, 1]; 1 means no reduction.
type RegimePolicy interface {
	Adjustment(symbol string) float64
}

// EngineConfig holds fusion parameters.
type EngineConfig struct {
	// Threshold is the minimum adjusted confidence for a tradable signal.
	Threshold float64
	// DeadBand is the net score magnitude below which the signal is NEUTRAL.
	DeadBand float64
	// StopPct and TargetPct set bracket prices relative to entry.
	StopPct   float64
	TargetPct float64
}

// Engine computes weighted-consensus signals. Fuse is pure given its
// inputs apart from ID and timestamp generation.
type Engine struct {
	cfg    EngineConfig
	regime RegimePolicy
	logger zerolog.Logger
}

// NewEngine creates a consensus engine. regime may be nil, in which case
// no regime adjustment is applied.
func NewEngine(cfg EngineConfig, regime RegimePolicy, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, regime: regime, logger: logger}
}

// Fuse combines source opinions into one signal for the symbol.
//
// Weights are renormalized over the sources actually present, so missing
// sources redistribute their influence instead of dragging the score down.
// The net score is the weighted sum of signed confidences, clamped to
// [-100, 100]; its sign picks the direction and its magnitude the raw
// confidence. A net score inside the dead band yields NEUTRAL. The signal
// is tradable only when the regime-adjusted confidence reaches the
// threshold and a weight majority of sources agrees with the direction.
func (e *Engine) Fuse(symbol string, entryPrice float64, opinions []models.SourceOpinion, weights map[string]float64) models.Signal {
	if len(opinions) == 0 {
		signal := models.Signal{
			ID:          uuid.NewString(),
			Symbol:      symbol,
			Direction:   models.DirectionNeutral,
			EntryPrice:  entryPrice,
			Reason:      "no sources available",
			GeneratedAt: time.Now(),
		}
		e.logSignal(signal)
		return signal
	}

	present := renormalize(opinions, weights)

	var net float64
	contributing := make([]models.ContributingSource, 0, len(opinions))
	for _, op := range opinions {
		w := present[op.SourceID]
		net += w * op.Confidence * float64(op.Direction.Sign())
		contributing = append(contributing, models.ContributingSource{
			SourceID:   op.SourceID,
			Weight:     w,
			Direction:  op.Direction,
			Confidence: op.Confidence,
		})
	}
	net = clamp(net, -100, 100)

	// Strict comparison so a zero net score stays NEUTRAL even with a
	// zero dead band.
	direction := models.DirectionNeutral
	switch {
	case net > e.cfg.DeadBand:
		direction = models.DirectionBuy
	case net < -e.cfg.DeadBand:
		direction = models.DirectionSell
	}

	raw := math.Abs(net)
	adjusted := raw
	adjustment := 1.0
	if e.regime != nil {
		adjustment = e.regime.Adjustment(symbol)
		if adjustment > 1 {
			adjustment = 1
		}
		if adjustment < 0 {
			adjustment = 0
		}
		adjusted = raw * adjustment
	}

	signal := models.Signal{
		ID:                  uuid.NewString(),
		Symbol:              symbol,
		Direction:           direction,
		Confidence:          adjusted,
		RawConfidence:       raw,
		NetScore:            net,
		EntryPrice:          entryPrice,
		ContributingSources: contributing,
		GeneratedAt:         time.Now(),
	}

	if direction == models.DirectionNeutral {
		signal.Reason = fmt.Sprintf("net score %.1f inside dead band %.1f", net, e.cfg.DeadBand)
		e.logSignal(signal)
		return signal
	}

	if entryPrice > 0 {
		signal.StopPrice, signal.TargetPrice = e.bracketPrices(direction, entryPrice)
	}

	agreeing := agreeingWeight(contributing, direction)
	switch {
	case adjusted < e.cfg.Threshold:
		signal.Reason = fmt.Sprintf("confidence %.1f below threshold %.1f", adjusted, e.cfg.Threshold)
	case agreeing <= 0.5:
		signal.Reason = fmt.Sprintf("only %.0f%% of source weight agrees with %s", agreeing*100, direction)
	default:
		signal.Tradable = true
		if adjustment < 1 {
			signal.Reason = fmt.Sprintf("confidence reduced %.1f -> %.1f by market regime", raw, adjusted)
		}
	}

	e.logSignal(signal)
	return signal
}

func (e *Engine) logSignal(signal models.Signal) {
	e.logger.Debug().
		Str("symbol", signal.Symbol).
		Str("direction", string(signal.Direction)).
		Float64("net_score", signal.NetScore).
		Float64("confidence", signal.Confidence).
		Bool("tradable", signal.Tradable).
		Str("reason", signal.Reason).
		Msg("Signal fused")
}

func (e *Engine) bracketPrices(direction models.Direction, entry float64) (stop, target float64) {
	stopDelta := entry * e.cfg.StopPct / 100
	targetDelta := entry * e.cfg.TargetPct / 100
	if direction == models.DirectionBuy {
		return entry - stopDelta, entry + targetDelta
	}
	return entry + stopDelta, entry - targetDelta
}

// renormalize returns the weights of the present sources scaled to sum
// to one. Sources without a configured weight get an equal share of the
// unclaimed mass; if no source has weight, all share equally.
func renormalize(opinions []models.SourceOpinion, weights map[string]float64) map[string]float64 {
	present := make(map[string]float64, len(opinions))
	var total float64
	for _, op := range opinions {
		w := weights[op.SourceID]
		if w < 0 {
			w = 0
		}
		present[op.SourceID] = w
		total += w
	}
	if total <= 0 {
		equal := 1.0 / float64(len(present))
		for id := range present {
			present[id] = equal
		}
		return present
	}
	for id, w := range present {
		present[id] = w / total
	}
	return present
}

// agreeingWeight sums the renormalized weight of contributors whose
// direction matches the consensus direction.
func agreeingWeight(contributing []models.ContributingSource, direction models.Direction) float64 {
	var sum float64
	for _, c := range contributing {
		if c.Direction == direction {
			sum += c.Weight
		}
	}
	return sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
