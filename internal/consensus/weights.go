package consensus

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"consensus-trader/internal/models"
)

// WeightsConfig holds adaptive weighting parameters.
type WeightsConfig struct {
	// Alpha is the EMA smoothing factor applied to each reported outcome.
	Alpha float64
	// MinWeight and MaxWeight clamp per-source weights before renormalizing.
	MinWeight float64
	MaxWeight float64
}

// WeightManager tracks per-source weights and adapts them from signal
// outcomes. All mutation happens on a single goroutine consuming the
// outcome queue; readers get consistent snapshots.
type WeightManager struct {
	cfg    WeightsConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	weights map[string]models.SourceWeight

	outcomes chan models.SignalOutcome
	stop     chan struct{}
	done     chan struct{}
}

const outcomeQueueSize = 128

// NewWeightManager creates a manager seeded with the configured weights,
// normalized to sum to one.
func NewWeightManager(cfg WeightsConfig, initial map[string]float64, logger zerolog.Logger) *WeightManager {
	m := &WeightManager{
		cfg:      cfg,
		logger:   logger,
		weights:  make(map[string]models.SourceWeight, len(initial)),
		outcomes: make(chan models.SignalOutcome, outcomeQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for id, w := range initial {
		m.weights[id] = models.SourceWeight{SourceID: id, Weight: w, RollingAccuracy: 0.5}
	}
	m.renormalizeLocked()
	return m
}

// Start launches the outcome consumer. Call Stop to drain and shut down.
func (m *WeightManager) Start() {
	go m.run()
}

// Stop shuts down the consumer after draining queued outcomes.
func (m *WeightManager) Stop() {
	close(m.stop)
	<-m.done
}

// ReportOutcome queues a signal outcome for weight adjustment. The queue
// is bounded; when full the outcome is dropped rather than blocking the
// trading path.
func (m *WeightManager) ReportOutcome(outcome models.SignalOutcome) {
	select {
	case m.outcomes <- outcome:
	default:
		m.logger.Warn().
			Str("source", outcome.SourceID).
			Str("signal_id", outcome.SignalID).
			Msg("Outcome queue full, outcome dropped")
	}
}

// Weights returns the current weight per source.
func (m *WeightManager) Weights() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.weights))
	for id, sw := range m.weights {
		out[id] = sw.Weight
	}
	return out
}

// Snapshot returns all source weights sorted by source ID.
func (m *WeightManager) Snapshot() []models.SourceWeight {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SourceWeight, 0, len(m.weights))
	for _, sw := range m.weights {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (m *WeightManager) run() {
	defer close(m.done)
	for {
		select {
		case outcome := <-m.outcomes:
			m.apply(outcome)
		case <-m.stop:
			for {
				select {
				case outcome := <-m.outcomes:
					m.apply(outcome)
				default:
					return
				}
			}
		}
	}
}

// apply folds one outcome into the source's rolling accuracy, an EMA
// step toward 1 for a correct call and toward 0 for a wrong one, then
// recomputes all weights proportionally to accuracy.
func (m *WeightManager) apply(outcome models.SignalOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sw, ok := m.weights[outcome.SourceID]
	if !ok {
		sw = models.SourceWeight{
			SourceID:        outcome.SourceID,
			Weight:          m.cfg.MinWeight,
			RollingAccuracy: 0.5,
		}
	}

	score := 0.0
	if outcome.WasCorrect {
		score = 1.0
	}
	before := sw.Weight
	sw.RollingAccuracy = m.cfg.Alpha*score + (1-m.cfg.Alpha)*sw.RollingAccuracy
	m.weights[outcome.SourceID] = sw
	m.recomputeLocked()

	m.logger.Debug().
		Str("source", outcome.SourceID).
		Bool("correct", outcome.WasCorrect).
		Float64("weight_before", before).
		Float64("weight_after", m.weights[outcome.SourceID].Weight).
		Msg("Source weight adjusted")
}

// recomputeLocked derives each weight from its rolling accuracy, then
// clamps and renormalizes. Callers hold the write lock.
func (m *WeightManager) recomputeLocked() {
	for id, sw := range m.weights {
		sw.Weight = sw.RollingAccuracy
		m.weights[id] = sw
	}
	m.renormalizeLocked()
}

// renormalizeLocked clamps each weight to [MinWeight, MaxWeight] and
// scales the set to sum to one. Callers hold the write lock.
func (m *WeightManager) renormalizeLocked() {
	if len(m.weights) == 0 {
		return
	}

	var total float64
	for id, sw := range m.weights {
		if m.cfg.MinWeight > 0 && sw.Weight < m.cfg.MinWeight {
			sw.Weight = m.cfg.MinWeight
		}
		if m.cfg.MaxWeight > 0 && sw.Weight > m.cfg.MaxWeight {
			sw.Weight = m.cfg.MaxWeight
		}
		m.weights[id] = sw
		total += sw.Weight
	}
	if total <= 0 {
		equal := 1.0 / float64(len(m.weights))
		for id, sw := range m.weights {
			sw.Weight = equal
			m.weights[id] = sw
		}
		return
	}
	for id, sw := range m.weights {
		sw.Weight /= total
		m.weights[id] = sw
	}
}
