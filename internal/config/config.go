// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Trading      TradingConfig      `yaml:"trading"`
	Broker       BrokerConfig       `yaml:"broker"`
	Session      SessionConfig      `yaml:"session"`
	Simulator    SimulatorConfig    `yaml:"simulator"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Order        OrderConfig        `yaml:"order"`
	Condition    ConditionConfig    `yaml:"condition"`
	Recorder     RecorderConfig     `yaml:"recorder"`
	System       SystemConfig       `yaml:"system"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// TradingConfig selects the execution mode.
type TradingConfig struct {
	// Mode is LIVE, PAPER, or HYBRID. PAPER routes everything through the
	// simulator; HYBRID uses live market data with simulated execution.
	Mode string `yaml:"mode"`
}

// BrokerConfig contains broker API credentials and endpoints.
type BrokerConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`
	// Timezone is the broker's local zone, used for the daily token boundary
	// and session-close arithmetic.
	Timezone string `yaml:"timezone"`
}

// SessionConfig controls token acquisition.
type SessionConfig struct {
	StorePath       string `yaml:"store_path"`
	StartupAttempts int    `yaml:"startup_attempts"`
	StartupBackoff  int    `yaml:"startup_backoff_seconds"`
	MaxBackoff      int    `yaml:"max_backoff_seconds"`
}

// SimulatorConfig tunes the virtual order book.
type SimulatorConfig struct {
	SlippageBps int `yaml:"slippage_bps"`
	// VirtualCash seeds the simulated account balance.
	VirtualCash int64 `yaml:"virtual_cash"`
}

// SubscriptionConfig caps the upstream market-data feed.
type SubscriptionConfig struct {
	MaxInstruments int `yaml:"max_instruments"`
}

// IdempotencyConfig controls the dedup window.
type IdempotencyConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
}

// OrderConfig holds order pipeline timeouts.
type OrderConfig struct {
	TimeoutMarketSeconds int `yaml:"timeout_market_seconds"`
	TimeoutLimitSeconds  int `yaml:"timeout_limit_seconds"`
	MonitorIntervalSecs  int `yaml:"monitor_interval_seconds"`
}

// ConditionConfig locates the trigger history database.
type ConditionConfig struct {
	HistoryPath string `yaml:"history_path"`
}

// RecorderConfig controls tick capture.
type RecorderConfig struct {
	Directory          string `yaml:"directory"`
	AutoStart          bool   `yaml:"auto_start"`
	CompressAfterClose bool   `yaml:"compress_after_close"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
	FlushThreshold     int    `yaml:"flush_threshold"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	EventPoolSize       int `yaml:"event_pool_size"`
	EventPoolBuffer     int `yaml:"event_pool_buffer"`
	ConditionPoolSize   int `yaml:"condition_pool_size"`
	ConditionPoolBuffer int `yaml:"condition_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateTrading(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateBroker(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateLimits(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateTrading() error {
	validModes := []string{"LIVE", "PAPER", "HYBRID"}
	if !contains(validModes, strings.ToUpper(c.Trading.Mode)) {
		return ValidationError{
			Field:   "trading.mode",
			Value:   c.Trading.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}
	return nil
}

func (c *Config) validateBroker() error {
	// Credentials are only required when the live gateway will be used.
	if strings.ToUpper(c.Trading.Mode) == "PAPER" {
		return nil
	}
	if c.Broker.APIKey == "" {
		return ValidationError{Field: "broker.api_key", Message: "API key is required outside PAPER mode"}
	}
	if c.Broker.APISecret == "" {
		return ValidationError{Field: "broker.api_secret", Message: "API secret is required outside PAPER mode"}
	}
	if _, err := time.LoadLocation(c.Broker.Timezone); err != nil {
		return ValidationError{Field: "broker.timezone", Value: c.Broker.Timezone, Message: "unknown timezone"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Simulator.SlippageBps < 0 {
		return ValidationError{Field: "simulator.slippage_bps", Value: c.Simulator.SlippageBps, Message: "must be non-negative"}
	}
	if c.Subscription.MaxInstruments <= 0 {
		return ValidationError{Field: "subscription.max_instruments", Value: c.Subscription.MaxInstruments, Message: "must be positive"}
	}
	if c.Idempotency.WindowMinutes <= 0 {
		return ValidationError{Field: "idempotency.window_minutes", Value: c.Idempotency.WindowMinutes, Message: "must be positive"}
	}
	if c.Order.TimeoutMarketSeconds <= 0 || c.Order.TimeoutLimitSeconds <= 0 {
		return ValidationError{Field: "order.timeout", Message: "timeouts must be positive"}
	}
	return nil
}

// Mode returns the normalized trading mode.
func (c *Config) Mode() string {
	return strings.ToUpper(c.Trading.Mode)
}

// IdempotencyWindow returns the dedup window as a duration.
func (c *Config) IdempotencyWindow() time.Duration {
	return time.Duration(c.Idempotency.WindowMinutes) * time.Minute
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Broker.APIKey = maskString(c.Broker.APIKey)
	configCopy.Broker.APISecret = maskString(c.Broker.APISecret)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the built-in defaults; LoadConfig overlays the file
// on top of these.
func DefaultConfig() *Config {
	return &Config{
		Trading: TradingConfig{Mode: "PAPER"},
		Broker: BrokerConfig{
			BaseURL:   "https://api.kite.trade",
			StreamURL: "wss://ws.kite.trade",
			Timezone:  "Asia/Kolkata",
		},
		Session: SessionConfig{
			StorePath:       "data/session.db",
			StartupAttempts: 10,
			StartupBackoff:  60,
			MaxBackoff:      300,
		},
		Simulator:    SimulatorConfig{SlippageBps: 5, VirtualCash: 1000000},
		Subscription: SubscriptionConfig{MaxInstruments: 3000},
		Idempotency:  IdempotencyConfig{WindowMinutes: 5},
		Order: OrderConfig{
			TimeoutMarketSeconds: 10,
			TimeoutLimitSeconds:  30,
			MonitorIntervalSecs:  5,
		},
		Condition: ConditionConfig{HistoryPath: "data/conditions.db"},
		Recorder: RecorderConfig{
			Directory:          "data/ticks",
			AutoStart:          true,
			CompressAfterClose: true,
			FlushIntervalMs:    300000,
			FlushThreshold:     1000,
		},
		System: SystemConfig{LogLevel: "INFO"},
		Concurrency: ConcurrencyConfig{
			EventPoolSize:       8,
			EventPoolBuffer:     1024,
			ConditionPoolSize:   4,
			ConditionPoolBuffer: 256,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9091,
			EnableMetrics: true,
		},
	}
}
