// Package scheduler drives the per-symbol processing loop at a fixed
// interval with bounded concurrency.
package scheduler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/config"
	"consensus-trader/internal/logging"
)

// ProcessFunc handles one symbol for one cycle.
type ProcessFunc func(ctx context.Context, symbol string)

// PriceFunc returns the current price for a symbol, or an error when no
// quote is available. Used for the minimum-move skip; errors disable the
// skip for that symbol so a stale quote never starves processing.
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

// Scheduler runs the processing function for each configured symbol every
// interval. A symbol still in flight from a previous cycle is skipped, as
// is a symbol whose price has not moved enough since it was last handled.
// Low-priority symbols run only every Nth cycle.
type Scheduler struct {
	cfg     config.SchedulerConfig
	process ProcessFunc
	price   PriceFunc
	logger  zerolog.Logger

	sem chan struct{}

	mu        sync.Mutex
	inflight  map[string]bool
	lastPrice map[string]float64
	cycle     int

	stop chan struct{}
	done chan struct{}
}

// New creates a scheduler. price may be nil to disable the move filter.
func New(cfg config.SchedulerConfig, process ProcessFunc, price PriceFunc, logger zerolog.Logger) *Scheduler {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		cfg:       cfg,
		process:   process,
		price:     price,
		logger:    logger,
		sem:       make(chan struct{}, concurrency),
		inflight:  make(map[string]bool),
		lastPrice: make(map[string]float64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the scheduling loop. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the loop and waits for it to exit. In-flight symbol
// work is cancelled through the context passed to Start.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runCycle(ctx)
	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	symbols := append([]string(nil), s.cfg.Symbols...)
	if s.includeLowPriority(cycle) {
		symbols = append(symbols, s.cfg.LowPriority...)
	}

	for _, symbol := range symbols {
		if !s.claim(symbol) {
			s.logger.Debug().Str("symbol", symbol).Msg("Symbol still in flight, skipped")
			continue
		}
		if s.skipUnmoved(ctx, symbol) {
			s.release(symbol)
			continue
		}

		go func(symbol string) {
			defer s.release(symbol)
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
			started := time.Now()
			s.process(ctx, symbol)
			logger := logging.WithSymbol(s.logger, symbol)
			logger.Debug().
				Dur("elapsed", time.Since(started)).
				Msg("Symbol cycle complete")
		}(symbol)
	}
}

func (s *Scheduler) includeLowPriority(cycle int) bool {
	if len(s.cfg.LowPriority) == 0 {
		return false
	}
	n := s.cfg.LowPriorityN
	if n <= 1 {
		return true
	}
	return cycle%n == 0
}

// claim marks the symbol in flight; false if it already is.
func (s *Scheduler) claim(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[symbol] {
		return false
	}
	s.inflight[symbol] = true
	return true
}

func (s *Scheduler) release(symbol string) {
	s.mu.Lock()
	delete(s.inflight, symbol)
	s.mu.Unlock()
}

// skipUnmoved reports whether the symbol's price has moved less than the
// configured threshold since its last processed cycle.
func (s *Scheduler) skipUnmoved(ctx context.Context, symbol string) bool {
	if s.price == nil || s.cfg.MinPriceMovePct <= 0 {
		return false
	}
	price, err := s.price(ctx, symbol)
	if err != nil || price <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.lastPrice[symbol]
	if seen && last > 0 {
		movePct := math.Abs(price-last) / last * 100
		if movePct < s.cfg.MinPriceMovePct {
			s.logger.Debug().
				Str("symbol", symbol).
				Float64("move_pct", movePct).
				Msg("Price move below threshold, skipped")
			return true
		}
	}
	s.lastPrice[symbol] = price
	return false
}
