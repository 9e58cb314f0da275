package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.InDelta(t, 75.0, cfg.Consensus.Threshold, 1e-9)
	assert.InDelta(t, 5.0, cfg.Consensus.DeadBand, 1e-9)
	assert.InDelta(t, 0.025, cfg.Risk.MaxDrawdownPct, 1e-9)
	assert.Equal(t, "MARKET", cfg.Execution.OrderType)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[consensus]
threshold = 80.0

[scheduler]
symbols = ["AAPL", "MSFT"]
interval = "10s"

[sources.technical]
enabled = true
weight = 0.4
requests_per_minute = 30.0
failure_threshold = 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, cfg.Consensus.Threshold, 1e-9)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Scheduler.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"technical"}, cfg.EnabledSources())
	assert.InDelta(t, 0.4, cfg.Sources["technical"].Weight, 1e-9)
}

func TestLoadReadsCredentials(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"),
		[]byte("[openai]\napi_key = \"sk-test\"\nmodel = \"gpt-4o-mini\"\n"), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Credentials.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Credentials.OpenAI.Model)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"),
		[]byte("[consensus]\nthreshold = 150.0\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above 100", func(c *Config) { c.Consensus.Threshold = 101 }},
		{"alpha zero", func(c *Config) { c.Consensus.Alpha = 0 }},
		{"weight clamp inverted", func(c *Config) { c.Consensus.MinWeight = 0.6; c.Consensus.MaxWeight = 0.5 }},
		{"drawdown out of range", func(c *Config) { c.Risk.MaxDrawdownPct = 1.5 }},
		{"warning above critical", func(c *Config) { c.Risk.WarningRatio = 0.95 }},
		{"unknown order type", func(c *Config) { c.Execution.OrderType = "STOP" }},
		{"base above max position", func(c *Config) { c.Execution.BasePositionPct = 10 }},
		{"confidence cap below one", func(c *Config) { c.Execution.ConfidenceCap = 0.5 }},
		{"zero scheduler interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{
			"enabled source without rate",
			func(c *Config) {
				c.Sources = map[string]SourceConfig{"technical": {Enabled: true, FailureThreshold: 3}}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateIgnoresDisabledSources(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sources = map[string]SourceConfig{
		"ai_analysis": {Enabled: false}, // no rate or threshold set
	}
	assert.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.EnabledSources())
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Credentials.OpenAI.APIKey)
}

func TestWriteTemplatesCreatesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteTemplates(dir))

	for _, name := range []string{"config.toml", "credentials.toml"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// The generated config must parse and validate.
	_, err := Load(dir)
	assert.NoError(t, err)

	// Existing files are left untouched.
	marker := []byte("# customized\n[openai]\napi_key = \"keep\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), marker, 0o600))
	require.NoError(t, WriteTemplates(dir))
	got, err := os.ReadFile(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, marker, got)
}
