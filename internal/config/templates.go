package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Consensus Trader Configuration

[scheduler]
# Processing interval per cycle
interval = "5s"
# Maximum symbols processed concurrently
max_concurrency = 4
# Global deadline for fetching all sources for one symbol
fetch_deadline = "10s"
# Symbols processed every cycle
symbols = ["AAPL", "MSFT", "SPY"]
# Symbols processed every Nth cycle
low_priority = []
low_priority_n = 5
# Skip a symbol when its price moved less than this percent
min_price_move_pct = 0.05

[consensus]
# Minimum adjusted confidence for a tradable signal (0-100)
threshold = 75.0
# Net score magnitude treated as NEUTRAL
dead_band = 5.0
# EMA factor for adaptive weight updates
alpha = 0.2
# Per-source weight clamp before renormalization
min_weight = 0.05
max_weight = 0.5
# Bracket exit distances from entry, percent
stop_pct = 2.0
target_pct = 4.0

[risk]
# Hard limits as fractions of equity
max_drawdown_pct = 0.025
max_daily_loss_pct = 0.02
# Risk level escalation as fractions of the limit
warning_ratio = 0.7
critical_ratio = 0.9
# Account refresh interval
tick_interval = "5s"

[execution]
# MARKET or LIMIT
order_type = "MARKET"
limit_offset_pct = 0.1
# Position sizing as percent of equity
base_position_pct = 2.0
max_position_pct = 5.0
# Size multiplier at confidence 100
confidence_cap = 1.5
volatility_cap = 2.0
# Submission retries with linear backoff
max_retry_attempts = 3
retry_base_delay = "500ms"
submit_timeout = "10s"
monitor_interval = "5s"
# Cap on simultaneous positions per correlation group
max_correlated_positions = 3

[execution.correlation_groups]
# AAPL = "tech"
# MSFT = "tech"

[market]
timezone = "America/New_York"
open_hour = 9
open_min = 30
close_hour = 16
close_min = 0

[cache]
# "memory" or "redis"
backend = "memory"
redis_addr = "localhost:6379"
redis_db = 0

[sources.market_data]
enabled = true
weight = 0.25
requests_per_minute = 60
failure_threshold = 5
cooldown = "30s"
fetch_timeout = "5s"

[sources.technical]
enabled = true
weight = 0.30
requests_per_minute = 60
failure_threshold = 5
cooldown = "30s"
fetch_timeout = "5s"

[sources.sentiment]
enabled = true
weight = 0.20
requests_per_minute = 30
failure_threshold = 5
cooldown = "60s"
fetch_timeout = "5s"

[sources.ai_analysis]
enabled = false
weight = 0.25
requests_per_minute = 10
failure_threshold = 3
cooldown = "120s"
fetch_timeout = "20s"
`

const credentialsTemplate = `# Consensus Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[openai]
api_key = ""
model = "gpt-4o-mini"
`

// WriteTemplates creates template configuration files in configDir,
// leaving existing files untouched.
func WriteTemplates(configDir string) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(configTemplate), 0644); err != nil {
			return fmt.Errorf("writing config template: %w", err)
		}
	}

	credsPath := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(credsPath); os.IsNotExist(err) {
		// Restricted permissions for credentials.
		if err := os.WriteFile(credsPath, []byte(credentialsTemplate), 0600); err != nil {
			return fmt.Errorf("writing credentials template: %w", err)
		}
	}

	return nil
}
