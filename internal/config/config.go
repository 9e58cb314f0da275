// Package config provides configuration management for the trading system.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Sources     map[string]SourceConfig `mapstructure:"sources"`
	Consensus   ConsensusConfig         `mapstructure:"consensus"`
	Risk        RiskConfig              `mapstructure:"risk"`
	Execution   ExecutionConfig         `mapstructure:"execution"`
	Scheduler   SchedulerConfig         `mapstructure:"scheduler"`
	Market      MarketConfig            `mapstructure:"market"`
	Cache       CacheConfig             `mapstructure:"cache"`
	Store       StoreConfig             `mapstructure:"store"`
	Credentials Credentials             `mapstructure:"-"` // Loaded separately
}

// SourceConfig holds per-source configuration.
type SourceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Weight            float64       `mapstructure:"weight"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             float64       `mapstructure:"burst"` // 0 = same as rate
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	MarketHoursTTL    time.Duration `mapstructure:"market_hours_ttl"`
	OffHoursTTL       time.Duration `mapstructure:"off_hours_ttl"`
}

// ConsensusConfig holds consensus fusion configuration.
type ConsensusConfig struct {
	Threshold float64 `mapstructure:"threshold"` // minimum tradable confidence
	DeadBand  float64 `mapstructure:"dead_band"` // net score window treated as NEUTRAL
	Alpha     float64 `mapstructure:"alpha"`     // EMA factor for rolling accuracy
	MinWeight float64 `mapstructure:"min_weight"`
	MaxWeight float64 `mapstructure:"max_weight"`
	StopPct   float64 `mapstructure:"stop_pct"`   // stop distance from entry
	TargetPct float64 `mapstructure:"target_pct"` // target distance from entry
}

// RiskConfig holds account risk-monitoring configuration.
type RiskConfig struct {
	MaxDrawdownPct  float64       `mapstructure:"max_drawdown_pct"`  // hard limit, fraction of peak equity
	MaxDailyLossPct float64       `mapstructure:"max_daily_loss_pct"`
	WarningRatio    float64       `mapstructure:"warning_ratio"`  // fraction of limit for WARNING
	CriticalRatio   float64       `mapstructure:"critical_ratio"` // fraction of limit for CRITICAL
	TickInterval    time.Duration `mapstructure:"tick_interval"`
}

// ExecutionConfig holds order execution configuration.
type ExecutionConfig struct {
	OrderType              string            `mapstructure:"order_type"` // MARKET or LIMIT
	LimitOffsetPct         float64           `mapstructure:"limit_offset_pct"`
	BasePositionPct        float64           `mapstructure:"base_position_pct"`
	MaxPositionPct         float64           `mapstructure:"max_position_pct"`
	ConfidenceCap          float64           `mapstructure:"confidence_cap"` // multiplier at confidence=100
	// MinTradableConfidence anchors the confidence multiplier at 1.0. Set
	// from the consensus threshold when the engine is wired.
	MinTradableConfidence float64 `mapstructure:"-"`
	VolatilityCap          float64           `mapstructure:"volatility_cap"`
	MaxRetryAttempts       int               `mapstructure:"max_retry_attempts"`
	RetryBaseDelay         time.Duration     `mapstructure:"retry_base_delay"`
	SubmitTimeout          time.Duration     `mapstructure:"submit_timeout"`
	MonitorInterval        time.Duration     `mapstructure:"monitor_interval"`
	MaxCorrelatedPositions int               `mapstructure:"max_correlated_positions"`
	CorrelationGroups      map[string]string `mapstructure:"correlation_groups"` // symbol -> group
}

// SchedulerConfig holds the top-level scheduling loop configuration.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	FetchDeadline  time.Duration `mapstructure:"fetch_deadline"` // global per-symbol deadline
	Symbols        []string      `mapstructure:"symbols"`
	LowPriority    []string      `mapstructure:"low_priority"`    // processed every Nth cycle
	LowPriorityN   int           `mapstructure:"low_priority_n"`
	MinPriceMovePct float64      `mapstructure:"min_price_move_pct"` // skip symbols below this move
}

// MarketConfig holds the market-hours calendar.
type MarketConfig struct {
	Timezone  string `mapstructure:"timezone"`
	OpenHour  int    `mapstructure:"open_hour"`
	OpenMin   int    `mapstructure:"open_min"`
	CloseHour int    `mapstructure:"close_hour"`
	CloseMin  int    `mapstructure:"close_min"`
}

// CacheConfig holds opinion-cache configuration.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"` // "memory" or "redis"
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

// StoreConfig holds signal store configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"` // SQLite database path
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/consensus-trader"
	}
	return filepath.Join(home, ".config", "consensus-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Missing file is fine, defaults apply.
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return v.Unmarshal(creds)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("consensus.threshold", 75.0)
	v.SetDefault("consensus.dead_band", 5.0)
	v.SetDefault("consensus.alpha", 0.2)
	v.SetDefault("consensus.min_weight", 0.05)
	v.SetDefault("consensus.max_weight", 0.5)
	v.SetDefault("consensus.stop_pct", 2.0)
	v.SetDefault("consensus.target_pct", 4.0)

	v.SetDefault("risk.max_drawdown_pct", 0.025)
	v.SetDefault("risk.max_daily_loss_pct", 0.02)
	v.SetDefault("risk.warning_ratio", 0.7)
	v.SetDefault("risk.critical_ratio", 0.9)
	v.SetDefault("risk.tick_interval", 5*time.Second)

	v.SetDefault("execution.order_type", "MARKET")
	v.SetDefault("execution.limit_offset_pct", 0.1)
	v.SetDefault("execution.base_position_pct", 2.0)
	v.SetDefault("execution.max_position_pct", 5.0)
	v.SetDefault("execution.confidence_cap", 1.5)
	v.SetDefault("execution.volatility_cap", 2.0)
	v.SetDefault("execution.max_retry_attempts", 3)
	v.SetDefault("execution.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("execution.submit_timeout", 10*time.Second)
	v.SetDefault("execution.monitor_interval", 5*time.Second)
	v.SetDefault("execution.max_correlated_positions", 3)

	v.SetDefault("scheduler.interval", 5*time.Second)
	v.SetDefault("scheduler.max_concurrency", 4)
	v.SetDefault("scheduler.fetch_deadline", 10*time.Second)
	v.SetDefault("scheduler.low_priority_n", 5)
	v.SetDefault("scheduler.min_price_move_pct", 0.05)

	v.SetDefault("market.timezone", "America/New_York")
	v.SetDefault("market.open_hour", 9)
	v.SetDefault("market.open_min", 30)
	v.SetDefault("market.close_hour", 16)
	v.SetDefault("market.close_min", 0)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")

	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "trader.db"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
}

// Validate validates the configuration. Misconfiguration fails at startup,
// never at runtime.
func (c *Config) Validate() error {
	if c.Consensus.Threshold < 0 || c.Consensus.Threshold > 100 {
		return fmt.Errorf("consensus.threshold must be between 0 and 100")
	}
	if c.Consensus.DeadBand < 0 || c.Consensus.DeadBand > 100 {
		return fmt.Errorf("consensus.dead_band must be between 0 and 100")
	}
	if c.Consensus.Alpha <= 0 || c.Consensus.Alpha > 1 {
		return fmt.Errorf("consensus.alpha must be in (0, 1]")
	}
	if c.Consensus.MinWeight < 0 || c.Consensus.MaxWeight <= 0 || c.Consensus.MinWeight >= c.Consensus.MaxWeight {
		return fmt.Errorf("consensus weight clamp invalid: min %.3f, max %.3f", c.Consensus.MinWeight, c.Consensus.MaxWeight)
	}

	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if src.Weight < 0 {
			return fmt.Errorf("sources.%s.weight must be non-negative", name)
		}
		if src.RequestsPerMinute <= 0 {
			return fmt.Errorf("sources.%s.requests_per_minute must be positive", name)
		}
		if src.FailureThreshold <= 0 {
			return fmt.Errorf("sources.%s.failure_threshold must be positive", name)
		}
	}

	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1)")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0, 1)")
	}
	if c.Risk.WarningRatio <= 0 || c.Risk.WarningRatio >= c.Risk.CriticalRatio || c.Risk.CriticalRatio >= 1 {
		return fmt.Errorf("risk ratios must satisfy 0 < warning < critical < 1")
	}

	if c.Execution.OrderType != "MARKET" && c.Execution.OrderType != "LIMIT" {
		return fmt.Errorf("execution.order_type must be MARKET or LIMIT, got %q", c.Execution.OrderType)
	}
	if c.Execution.BasePositionPct <= 0 || c.Execution.MaxPositionPct <= 0 {
		return fmt.Errorf("execution position percentages must be positive")
	}
	if c.Execution.BasePositionPct > c.Execution.MaxPositionPct {
		return fmt.Errorf("execution.base_position_pct exceeds max_position_pct")
	}
	if c.Execution.ConfidenceCap < 1 {
		return fmt.Errorf("execution.confidence_cap must be at least 1.0")
	}
	if c.Execution.MaxRetryAttempts < 0 {
		return fmt.Errorf("execution.max_retry_attempts must be non-negative")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		return fmt.Errorf("scheduler.max_concurrency must be positive")
	}

	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}

	return nil
}

// EnabledSources returns the names of enabled sources.
func (c *Config) EnabledSources() []string {
	names := make([]string, 0, len(c.Sources))
	for name, src := range c.Sources {
		if src.Enabled {
			names = append(names, name)
		}
	}
	return names
}
