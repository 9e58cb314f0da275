// Package orchestrator fans out opinion fetches to all configured sources
// and collects partial results under a deadline.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"consensus-trader/internal/cache"
	"consensus-trader/internal/config"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/models"
	"consensus-trader/internal/ratelimit"
	"consensus-trader/internal/resilience"
	"consensus-trader/internal/sources"
)

// Orchestrator coordinates concurrent fetches across all registered sources.
// One source's failure never fails the symbol; the result is whatever
// succeeded within the deadline, possibly nothing.
type Orchestrator struct {
	registry *sources.Registry
	cache    *cache.OpinionCache
	limiters *ratelimit.Registry
	breakers map[string]*resilience.CircuitBreaker
	timeouts map[string]time.Duration
	deadline time.Duration
	logger   zerolog.Logger
}

const defaultFetchTimeout = 5 * time.Second

// New creates an orchestrator over the registered sources, building a rate
// limiter and circuit breaker per source from its configuration.
func New(
	registry *sources.Registry,
	opinionCache *cache.OpinionCache,
	sourceCfg map[string]config.SourceConfig,
	deadline time.Duration,
	logger zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		cache:    opinionCache,
		limiters: ratelimit.NewRegistry(),
		breakers: make(map[string]*resilience.CircuitBreaker),
		timeouts: make(map[string]time.Duration),
		deadline: deadline,
		logger:   logger,
	}

	for _, src := range registry.All() {
		name := src.Name()
		cfg := sourceCfg[name]

		rate := cfg.RequestsPerMinute
		if rate <= 0 {
			rate = 60
		}
		o.limiters.Register(name, rate, cfg.Burst)

		breakerCfg := resilience.DefaultCircuitBreakerConfig()
		if cfg.FailureThreshold > 0 {
			breakerCfg.FailureThreshold = cfg.FailureThreshold
		}
		if cfg.Cooldown > 0 {
			breakerCfg.Cooldown = cfg.Cooldown
		}
		o.breakers[name] = resilience.NewCircuitBreaker(name, breakerCfg)

		timeout := cfg.FetchTimeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		o.timeouts[name] = timeout

		marketTTL, offTTL := src.CacheTTL()
		ttls := cache.TTLs{MarketHours: marketTTL, OffHours: offTTL}
		if cfg.MarketHoursTTL > 0 {
			ttls.MarketHours = cfg.MarketHoursTTL
		}
		if cfg.OffHoursTTL > 0 {
			ttls.OffHours = cfg.OffHoursTTL
		}
		opinionCache.SetTTLs(name, ttls)
	}

	return o
}

type fetchResult struct {
	opinion models.SourceOpinion
	skipped bool
	err     error
}

// FetchAll fetches opinions for the symbol from every source concurrently
// and returns the ones that succeeded within the global deadline.
func (o *Orchestrator) FetchAll(ctx context.Context, symbol string) []models.SourceOpinion {
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	all := o.registry.All()
	resultChan := make(chan fetchResult, len(all))

	var wg sync.WaitGroup
	for _, src := range all {
		wg.Add(1)
		go func(src sources.Source) {
			defer wg.Done()
			resultChan <- o.fetchOne(ctx, src, symbol)
		}(src)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	opinions := make([]models.SourceOpinion, 0, len(all))
	for res := range resultChan {
		if res.err != nil || res.skipped {
			continue
		}
		opinions = append(opinions, res.opinion)
	}
	return opinions
}

// fetchOne resolves one source's opinion: cache, then breaker and limiter
// admission, then the fetch under the per-source timeout.
func (o *Orchestrator) fetchOne(ctx context.Context, src sources.Source, symbol string) fetchResult {
	name := src.Name()
	logger := logging.WithSource(o.logger, name)

	if cached, err := o.cache.Get(ctx, name, symbol); err == nil {
		logger.Debug().Str("symbol", symbol).Msg("Cache hit")
		return fetchResult{opinion: cached}
	}

	breaker := o.breakers[name]
	if breaker != nil && breaker.State() == resilience.CircuitOpen {
		// Check admission without consuming a half-open trial slot for a
		// request the rate limiter may yet reject.
		if err := breaker.Allow(); err != nil {
			logger.Debug().Str("symbol", symbol).Msg("Circuit open, source skipped")
			return fetchResult{skipped: true}
		}
		// The allow consumed the half-open trial; run the fetch below and
		// report the outcome.
		return o.runFetch(ctx, src, symbol, breaker, logger)
	}

	if !o.limiters.Allow(name) {
		logger.Debug().Str("symbol", symbol).Msg("Rate limited, source skipped")
		return fetchResult{skipped: true}
	}

	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			logger.Debug().Str("symbol", symbol).Msg("Circuit open, source skipped")
			return fetchResult{skipped: true}
		}
	}

	return o.runFetch(ctx, src, symbol, breaker, logger)
}

// runFetch performs an admitted fetch under the per-source timeout and
// reports the outcome to the circuit breaker.
func (o *Orchestrator) runFetch(ctx context.Context, src sources.Source, symbol string, breaker *resilience.CircuitBreaker, logger zerolog.Logger) fetchResult {
	name := src.Name()
	timeout := o.timeouts[name]
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	type outcome struct {
		opinion models.SourceOpinion
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		op, err := src.Fetch(fetchCtx, symbol)
		done <- outcome{opinion: op, err: err}
	}()

	var op models.SourceOpinion
	var err error
	select {
	case out := <-done:
		op, err = out.opinion, out.err
	case <-fetchCtx.Done():
		err = fetchCtx.Err()
	}

	logging.LogSourceFetch(o.logger, name, symbol, time.Since(started), err)

	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return fetchResult{err: err}
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	if cacheErr := o.cache.Put(ctx, op); cacheErr != nil && !errors.Is(cacheErr, context.Canceled) {
		logger.Warn().Err(cacheErr).Str("symbol", symbol).Msg("Caching opinion failed")
	}
	return fetchResult{opinion: op}
}

// ActiveSources returns the names of sources whose circuit is not open.
func (o *Orchestrator) ActiveSources() []string {
	names := make([]string, 0, len(o.breakers))
	for _, src := range o.registry.All() {
		breaker := o.breakers[src.Name()]
		if breaker == nil || breaker.State() != resilience.CircuitOpen {
			names = append(names, src.Name())
		}
	}
	return names
}

// BreakerStats returns circuit breaker statistics for all sources.
func (o *Orchestrator) BreakerStats() []resilience.CircuitBreakerStats {
	stats := make([]resilience.CircuitBreakerStats, 0, len(o.breakers))
	for _, src := range o.registry.All() {
		if breaker := o.breakers[src.Name()]; breaker != nil {
			stats = append(stats, breaker.Stats())
		}
	}
	return stats
}

// ResetBreaker resets the named source's circuit breaker to closed.
func (o *Orchestrator) ResetBreaker(name string) bool {
	breaker, ok := o.breakers[name]
	if !ok {
		return false
	}
	breaker.Reset()
	return true
}
