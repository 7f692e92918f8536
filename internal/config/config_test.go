package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "PAPER", cfg.Mode())
	assert.Equal(t, 5*time.Minute, cfg.IdempotencyWindow())
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: HYBRID
broker:
  api_key: key-123
  api_secret: secret-456
simulator:
  slippage_bps: 10
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "HYBRID", cfg.Mode())
	assert.Equal(t, 10, cfg.Simulator.SlippageBps)
	// Untouched sections keep their defaults.
	assert.Equal(t, "Asia/Kolkata", cfg.Broker.Timezone)
	assert.Equal(t, 3000, cfg.Subscription.MaxInstruments)
	assert.Equal(t, "data/conditions.db", cfg.Condition.HistoryPath)
}

func TestLoadConfigExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_KITE_KEY", "env-key")
	t.Setenv("TEST_KITE_SECRET", "env-secret")

	path := writeConfig(t, `
trading:
  mode: LIVE
broker:
  api_key: ${TEST_KITE_KEY}
  api_secret: ${TEST_KITE_SECRET}
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Broker.APIKey)
	assert.Equal(t, "env-secret", cfg.Broker.APISecret)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.Mode = "BACKTEST"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading.mode")
}

func TestValidateRequiresCredentialsOutsidePaper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.Mode = "LIVE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.api_key")

	// PAPER mode runs without broker credentials.
	cfg = DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.Mode = "LIVE"
	cfg.Broker.APIKey = "k"
	cfg.Broker.APISecret = "s"
	cfg.Broker.Timezone = "Mars/Olympus"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.timezone")
}

func TestValidateLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulator.SlippageBps = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Subscription.MaxInstruments = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Idempotency.WindowMinutes = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Order.TimeoutMarketSeconds = 0
	assert.Error(t, cfg.Validate())
}

func TestStringMasksCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker.APIKey = "kite-api-key-12345"
	cfg.Broker.APISecret = "short"

	s := cfg.String()
	assert.NotContains(t, s, "kite-api-key-12345")
	assert.NotContains(t, s, "short")
	assert.Contains(t, s, "kite**********2345")
}
