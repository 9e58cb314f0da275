package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"consensus-trader/internal/config"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.SignalStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = config.DefaultConfigDir() + "/trader.db"
	}
	signalStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, persistence disabled")
	} else {
		app.Store = signalStore
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Consensus Trader - multi-source trading signal consensus",
		Long: `Consensus Trader polls independent data sources for directional opinions,
fuses them into weighted consensus signals, and executes tradable signals
under account-level risk limits.

Use 'trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/consensus-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newSignalsCmd(app))
	rootCmd.AddCommand(newSourcesCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("Consensus Trader v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create template configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config")
			if err := config.WriteTemplates(configDir); err != nil {
				return err
			}
			output := NewOutput(cmd)
			if configDir == "" {
				configDir = config.DefaultConfigDir()
			}
			output.Success("Configuration templates written to %s", configDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Consensus")
	output.Printf("  Threshold:       %.1f\n", cfg.Consensus.Threshold)
	output.Printf("  Dead band:       %.1f\n", cfg.Consensus.DeadBand)
	output.Printf("  Alpha:           %.2f\n", cfg.Consensus.Alpha)
	output.Printf("  Weight bounds:   [%.2f, %.2f]\n", cfg.Consensus.MinWeight, cfg.Consensus.MaxWeight)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Max drawdown:    %.2f%%\n", cfg.Risk.MaxDrawdownPct*100)
	output.Printf("  Max daily loss:  %.2f%%\n", cfg.Risk.MaxDailyLossPct*100)
	output.Printf("  Tick interval:   %s\n", cfg.Risk.TickInterval)
	output.Println()

	output.Bold("Execution")
	output.Printf("  Order type:      %s\n", cfg.Execution.OrderType)
	output.Printf("  Base position:   %.1f%%\n", cfg.Execution.BasePositionPct)
	output.Printf("  Max position:    %.1f%%\n", cfg.Execution.MaxPositionPct)
	output.Printf("  Max retries:     %d\n", cfg.Execution.MaxRetryAttempts)
	output.Println()

	output.Bold("Scheduler")
	output.Printf("  Interval:        %s\n", cfg.Scheduler.Interval)
	output.Printf("  Concurrency:     %d\n", cfg.Scheduler.MaxConcurrency)
	output.Printf("  Symbols:         %v\n", cfg.Scheduler.Symbols)
	output.Printf("  Low priority:    %v (every %d cycles)\n", cfg.Scheduler.LowPriority, cfg.Scheduler.LowPriorityN)
	output.Println()

	output.Bold("Sources")
	for _, name := range cfg.EnabledSources() {
		src := cfg.Sources[name]
		output.Printf("  %-14s weight=%.2f rate=%.0f/min breaker=%d\n",
			name, src.Weight, src.RequestsPerMinute, src.FailureThreshold)
	}
}
