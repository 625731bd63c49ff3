// Package config provides configuration management for the trading application.
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
	Trading     TradingConfig  `mapstructure:"trading"`
	Pricer      PricerConfig   `mapstructure:"pricer"`
	Risk        RiskConfig     `mapstructure:"risk"`
	Workers     WorkersConfig  `mapstructure:"workers"`
	Store       StoreConfig    `mapstructure:"store"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Credentials Credentials    `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode            string `mapstructure:"mode"`             // "live", "paper"
	DefaultProduct  string `mapstructure:"default_product"`  // MIS, CNC, NRML
	DefaultExchange string `mapstructure:"default_exchange"` // NSE, BSE
}

// PricerConfig holds adaptive entry pricing configuration.
type PricerConfig struct {
	TolerancePercent    float64 `mapstructure:"tolerance_percent"`     // deviation below which signal price is used as-is
	MaxDeviationPercent float64 `mapstructure:"max_deviation_percent"` // deviation above which the signal is rejected
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	TrailingStopPercent  float64 `mapstructure:"trailing_stop_percent"`
	BrokeragePerLeg      float64 `mapstructure:"brokerage_per_leg"` // flat fee per executed leg, INR
	MaxHoldingDays       int     `mapstructure:"max_holding_days"`
	MomentumMoveRatio    float64 `mapstructure:"momentum_move_ratio"`    // fraction of distance-to-target that counts as real movement
	MomentumRevertWindow float64 `mapstructure:"momentum_revert_window"` // fraction of order price the LTP must be back within
	MomentumDrawdown     float64 `mapstructure:"momentum_drawdown"`      // fraction below session high that confirms the fade
}

// WorkersConfig holds background worker scheduling configuration.
type WorkersConfig struct {
	OrderMonitorInterval time.Duration `mapstructure:"order_monitor_interval"`
	TrailingStopInterval time.Duration `mapstructure:"trailing_stop_interval"`
	MomentumInterval     time.Duration `mapstructure:"momentum_interval"`
	ResolverInterval     time.Duration `mapstructure:"resolver_interval"`
	OffHoursInterval     time.Duration `mapstructure:"off_hours_interval"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/swing-trader"
	}
	return filepath.Join(home, ".config", "swing-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = filepath.Join(configDir, "trades.db")
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.default_product", "CNC")
	v.SetDefault("trading.default_exchange", "NSE")

	v.SetDefault("pricer.tolerance_percent", 2.0)
	v.SetDefault("pricer.max_deviation_percent", 5.0)

	v.SetDefault("risk.trailing_stop_percent", 1.5)
	v.SetDefault("risk.brokerage_per_leg", 20.0)
	v.SetDefault("risk.max_holding_days", 120)
	v.SetDefault("risk.momentum_move_ratio", 0.30)
	v.SetDefault("risk.momentum_revert_window", 0.01)
	v.SetDefault("risk.momentum_drawdown", 0.03)

	v.SetDefault("workers.order_monitor_interval", 30*time.Second)
	v.SetDefault("workers.trailing_stop_interval", 30*time.Second)
	v.SetDefault("workers.momentum_interval", 60*time.Second)
	v.SetDefault("workers.resolver_interval", 15*time.Minute)
	v.SetDefault("workers.off_hours_interval", 5*time.Minute)

	v.SetDefault("store.database_path", filepath.Join(configDir, "trades.db"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9187")
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Zerodha credentials
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}

	// Trading mode
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	// Database path
	if v := os.Getenv("TRADER_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate trading mode
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}

	// Validate pricer bands
	if c.Pricer.TolerancePercent < 0 {
		return fmt.Errorf("tolerance_percent must be non-negative")
	}
	if c.Pricer.MaxDeviationPercent <= c.Pricer.TolerancePercent {
		return fmt.Errorf("max_deviation_percent must exceed tolerance_percent")
	}

	// Validate risk parameters
	if c.Risk.TrailingStopPercent < 0 || c.Risk.TrailingStopPercent > 100 {
		return fmt.Errorf("trailing_stop_percent must be between 0 and 100")
	}
	if c.Risk.BrokeragePerLeg < 0 {
		return fmt.Errorf("brokerage_per_leg must be non-negative")
	}
	if c.Risk.MaxHoldingDays <= 0 {
		return fmt.Errorf("max_holding_days must be positive")
	}

	// Validate worker intervals
	if c.Workers.OrderMonitorInterval <= 0 || c.Workers.TrailingStopInterval <= 0 ||
		c.Workers.MomentumInterval <= 0 || c.Workers.ResolverInterval <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
