// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Symbols     []SymbolConfig    `yaml:"symbols"`
	Risk        RiskConfig        `yaml:"risk"`
	Mode        ModeConfig        `yaml:"mode"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Store       StoreConfig       `yaml:"store"`
	Notify      NotifyConfig      `yaml:"notify"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	System      SystemConfig      `yaml:"system"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Cohort          string `yaml:"cohort"`           // logical trading slot; own state files
	QuoteAsset      string `yaml:"quote_asset" validate:"required"`
	StateDir        string `yaml:"state_dir" validate:"required"`
}

// ExchangeConfig contains exchange connection settings. A single
// exchange account is used for the whole process (spec §1: "operated
// by a single user against one exchange account").
type ExchangeConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=binance_spot paper"`
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
}

// SymbolConfig is the per-symbol grid and allocation configuration
// that seeds a GridBot / orchestrator SymbolState.
type SymbolConfig struct {
	Symbol           string  `yaml:"symbol" validate:"required"`
	Investment       float64 `yaml:"investment" validate:"required,min=0"`
	GridCount        int     `yaml:"grid_count" validate:"required,min=1,max=200"`
	RangePercent     float64 `yaml:"range_percent" validate:"required,min=0,max=1"`
	AllocationUSD    float64 `yaml:"allocation_usd" validate:"min=0"`
	HoldTrailingPct  float64 `yaml:"hold_trailing_pct" validate:"min=0,max=1"`
	StopLossType     string  `yaml:"stop_loss_type" validate:"oneof=FIXED TRAILING ATR BREAK_EVEN"`
	StopLossPercent  float64 `yaml:"stop_loss_percent" validate:"min=0,max=1"`
}

// RiskConfig contains risk guard and circuit-breaker settings
type RiskConfig struct {
	MaxDailyDrawdownPct  float64 `yaml:"max_daily_drawdown_pct" validate:"required,min=0,max=1"`
	CircuitBreakerPct    float64 `yaml:"circuit_breaker_pct" validate:"required,min=0,max=1"`
	CashReserveFloorPct  float64 `yaml:"cash_reserve_floor_pct" validate:"min=0,max=1"`
}

// ModeConfig contains ModeManager hysteresis thresholds
type ModeConfig struct {
	MinRegimeProbability    float64 `yaml:"min_regime_probability" validate:"required,min=0,max=1"`
	MinRegimeDurationDays   int     `yaml:"min_regime_duration_days" validate:"required,min=0"`
	CooldownHours           int     `yaml:"cooldown_hours" validate:"required,min=0"`
	EmergencyBearProbability float64 `yaml:"emergency_bear_probability" validate:"required,min=0,max=1"`
	MaxTransitions48h       int     `yaml:"max_transitions_48h" validate:"required,min=1"`
	CashExitTimeoutHours    int     `yaml:"cash_exit_timeout_hours" validate:"required,min=0"`
}

// SchedulerConfig contains the cooperative-loop granularity and
// rebalance cadence
type SchedulerConfig struct {
	GranularitySeconds     int `yaml:"granularity_seconds" validate:"required,min=1"`
	OrchestratorTickSeconds int `yaml:"orchestrator_tick_seconds" validate:"required,min=1"`
	RebalanceIntervalHours int `yaml:"rebalance_interval_hours" validate:"required,min=1"`
}

// StoreConfig selects the KeyValueStore backend
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=file sqlite"`
	Path   string `yaml:"path" validate:"required"`
}

// NotifyConfig contains pluggable notifier channel credentials.
// Absent credentials downgrade to a no-op channel rather than abort
// (spec §6 Environment Inputs).
type NotifyConfig struct {
	SlackWebhookURL   Secret `yaml:"slack_webhook_url"`
	TelegramBotToken  Secret `yaml:"telegram_bot_token"`
	TelegramChatID    string `yaml:"telegram_chat_id"`
}

// TelemetryConfig contains rotated-log settings for the six category
// sinks
type TelemetryConfig struct {
	Directory  string `yaml:"directory" validate:"required"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
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

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSymbols(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStore(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.QuoteAsset == "" {
		return ValidationError{Field: "app.quote_asset", Message: "quote asset is required"}
	}
	if c.App.StateDir == "" {
		return ValidationError{Field: "app.state_dir", Message: "state directory is required"}
	}
	return nil
}

func (c *Config) validateExchange() error {
	validDrivers := []string{"binance_spot", "paper"}
	if !contains(validDrivers, c.Exchange.Driver) {
		return ValidationError{
			Field:   "exchange.driver",
			Value:   c.Exchange.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validDrivers, ", ")),
		}
	}
	if c.Exchange.Driver == "binance_spot" {
		if c.Exchange.APIKey == "" {
			return ValidationError{Field: "exchange.api_key", Message: "API key is required for binance_spot"}
		}
		if c.Exchange.SecretKey == "" {
			return ValidationError{Field: "exchange.secret_key", Message: "secret key is required for binance_spot"}
		}
	}
	return nil
}

func (c *Config) validateSymbols() error {
	if len(c.Symbols) == 0 {
		return ValidationError{Field: "symbols", Message: "at least one symbol must be configured"}
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return ValidationError{Field: "symbols[].symbol", Message: "symbol is required"}
		}
		if seen[s.Symbol] {
			return ValidationError{Field: "symbols[].symbol", Value: s.Symbol, Message: "duplicate symbol"}
		}
		seen[s.Symbol] = true
		if s.GridCount < 1 {
			return ValidationError{
				Field:   fmt.Sprintf("symbols[%s].grid_count", s.Symbol),
				Value:   s.GridCount,
				Message: "grid count must be at least 1",
			}
		}
		if s.RangePercent <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("symbols[%s].range_percent", s.Symbol),
				Value:   s.RangePercent,
				Message: "range percent must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
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

func (c *Config) validateStore() error {
	validDrivers := []string{"file", "sqlite"}
	if !contains(validDrivers, c.Store.Driver) {
		return ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validDrivers, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for operation
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"BINANCE_API_KEY", "BINANCE_SECRET_KEY",
		"SLACK_WEBHOOK_URL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Cohort:     "default",
			QuoteAsset: "USDT",
			StateDir:   "./data",
		},
		Exchange: ExchangeConfig{
			Driver:  "paper",
			Testnet: true,
		},
		Symbols: []SymbolConfig{
			{
				Symbol:          "BTCUSDT",
				Investment:      1000.0,
				GridCount:       10,
				RangePercent:    0.08,
				AllocationUSD:   1000.0,
				HoldTrailingPct: 0.07,
				StopLossType:    "TRAILING",
				StopLossPercent: 0.05,
			},
		},
		Risk: RiskConfig{
			MaxDailyDrawdownPct: 0.10,
			CircuitBreakerPct:   0.10,
			CashReserveFloorPct: 0.10,
		},
		Mode: ModeConfig{
			MinRegimeProbability:     0.70,
			MinRegimeDurationDays:    2,
			CooldownHours:            24,
			EmergencyBearProbability: 0.85,
			MaxTransitions48h:        2,
			CashExitTimeoutHours:     2,
		},
		Scheduler: SchedulerConfig{
			GranularitySeconds:      60,
			OrchestratorTickSeconds: 60,
			RebalanceIntervalHours:  6,
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   "./data",
		},
		Telemetry: TelemetryConfig{
			Directory:  "./logs",
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
}
