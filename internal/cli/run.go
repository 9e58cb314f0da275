package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"consensus-trader/internal/broker"
	"consensus-trader/internal/cache"
	"consensus-trader/internal/config"
	"consensus-trader/internal/consensus"
	apperrors "consensus-trader/internal/errors"
	"consensus-trader/internal/execution"
	"consensus-trader/internal/orchestrator"
	"consensus-trader/internal/resilience"
	"consensus-trader/internal/risk"
	"consensus-trader/internal/scheduler"
	"consensus-trader/internal/sources"
	"consensus-trader/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop",
		Long: `Run the full pipeline: poll sources for every configured symbol on a
fixed interval, fuse opinions into consensus signals, and execute
tradable signals against the paper backend until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(app, cmd)
		},
	}
}

func runLoop(app *App, cmd *cobra.Command) error {
	output := NewOutput(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trader, sched, cleanup, err := buildTrader(ctx, app)
	if err != nil {
		return err
	}
	defer cleanup()

	trader.Start(ctx)
	sched.Start(ctx)
	output.Info("Trading loop started for %v, interrupt to stop", app.Config.Scheduler.Symbols)

	<-ctx.Done()
	output.Println()
	output.Info("Shutting down...")

	sched.Stop()
	trader.Stop(context.Background())
	output.Success("Stopped")
	return nil
}

// buildTrader assembles the full pipeline from the configuration.
func buildTrader(ctx context.Context, app *App) (*trading.Trader, *scheduler.Scheduler, func(), error) {
	cfg := app.Config
	logger := app.Logger

	feed := sources.NewSimFeed(time.Now().UnixNano())
	registry, err := buildSources(cfg, feed, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	calendar := cache.NewCalendar(cfg.Market.Timezone,
		cfg.Market.OpenHour, cfg.Market.OpenMin, cfg.Market.CloseHour, cfg.Market.CloseMin)

	cacheStore, err := buildCacheStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	opinionCache := cache.New(cacheStore, calendar)

	orch := orchestrator.New(registry, opinionCache, cfg.Sources, cfg.Scheduler.FetchDeadline, logger)

	regime := resilience.NewRegimeDetector(resilience.DefaultRegimeConfig())
	engine := consensus.NewEngine(consensus.EngineConfig{
		Threshold: cfg.Consensus.Threshold,
		DeadBand:  cfg.Consensus.DeadBand,
		StopPct:   cfg.Consensus.StopPct,
		TargetPct: cfg.Consensus.TargetPct,
	}, regime, logger)

	weights := consensus.NewWeightManager(consensus.WeightsConfig{
		Alpha:     cfg.Consensus.Alpha,
		MinWeight: cfg.Consensus.MinWeight,
		MaxWeight: cfg.Consensus.MaxWeight,
	}, initialWeights(app, registry), logger)

	backend := broker.NewPaperBackend(broker.PaperBackendConfig{
		CorrelationGroups: cfg.Execution.CorrelationGroups,
	})

	monitor := risk.NewMonitor(cfg.Risk, backend, logger)
	if app.Store != nil {
		monitor.SetHaltStore(app.Store)
		if halted, reason, err := app.Store.Halted(ctx); err == nil && halted {
			monitor.Halt(ctx, reason)
		}
	}

	execCfg := cfg.Execution
	execCfg.MinTradableConfidence = cfg.Consensus.Threshold
	exec := execution.NewEngine(execCfg, backend, monitor, regime, logger)

	trader := trading.New(trading.Deps{
		Orchestrator: orch,
		Engine:       engine,
		Weights:      weights,
		Monitor:      monitor,
		Exec:         exec,
		Backend:      backend,
		Signals:      app.Store,
		Quotes:       feed,
		Regime:       regime,
		Calendar:     calendar,
		Logger:       logger,
	})
	sched := scheduler.New(cfg.Scheduler, trader.ProcessSymbol, trader.Price, logger)

	cleanup := func() {
		if err := opinionCache.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing opinion cache failed")
		}
	}
	return trader, sched, cleanup, nil
}

// buildSources registers an adapter for every enabled source. Unknown
// source names and the AI source without credentials are skipped with a
// warning rather than failing startup.
func buildSources(cfg *config.Config, feed *sources.SimFeed, logger zerolog.Logger) (*sources.Registry, error) {
	registry := sources.NewRegistry()

	for _, name := range cfg.EnabledSources() {
		src := newSource(name, cfg, feed, logger)
		if src == nil {
			continue
		}
		if err := registry.Register(src); err != nil {
			return nil, err
		}
	}

	if registry.Len() == 0 {
		return nil, apperrors.Wrap(apperrors.ErrNoSources, "no sources enabled")
	}
	return registry, nil
}

func newSource(name string, cfg *config.Config, feed *sources.SimFeed, logger zerolog.Logger) sources.Source {
	const (
		shortTTL = 30 * time.Second
		longTTL  = 10 * time.Minute
	)

	switch name {
	case "market_data":
		return sources.NewMarketDataSource(name, feed, shortTTL, longTTL)
	case "technical":
		return sources.NewTechnicalSource(name, feed, shortTTL, longTTL)
	case "sentiment":
		return sources.NewSentimentSource(name, feed, 5*time.Minute, 30*time.Minute)
	case "ai_analysis":
		if cfg.Credentials.OpenAI.APIKey == "" {
			logger.Warn().Msg("ai_analysis enabled but no OpenAI API key, source skipped")
			return nil
		}
		return sources.NewOpenAISource(name, cfg.Credentials.OpenAI.APIKey,
			cfg.Credentials.OpenAI.Model, feed, 2*time.Minute, time.Hour)
	default:
		logger.Warn().Str("source", name).Msg("Unknown source in configuration, skipped")
		return nil
	}
}

// initialWeights seeds the weight manager from configuration, overridden
// by weights persisted from a previous run.
func initialWeights(app *App, registry *sources.Registry) map[string]float64 {
	weights := make(map[string]float64)
	for _, name := range registry.Names() {
		weights[name] = app.Config.Sources[name].Weight
	}

	if app.Store != nil {
		persisted, err := app.Store.LoadWeights(context.Background())
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Loading persisted weights failed")
			return weights
		}
		for name, w := range persisted {
			if _, known := weights[name]; known && w > 0 {
				weights[name] = w
			}
		}
	}
	return weights
}

// buildCacheStore selects the opinion-cache backend.
func buildCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	}
	return cache.NewMemoryStore(), nil
}
