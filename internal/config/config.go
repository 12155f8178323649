// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/duchuynh/tradesim/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Data        DataConfig        `yaml:"data"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Protection  ProtectionConfig  `yaml:"protection"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstrumentConfig identifies what is being simulated.
type InstrumentConfig struct {
	ID string `yaml:"id"`
}

// DataConfig points at the replay inputs.
type DataConfig struct {
	BarsPath    string `yaml:"bars_path"`
	SignalsPath string `yaml:"signals_path"`
}

// SimulationConfig holds replay settings.
type SimulationConfig struct {
	InitialEquity     float64 `yaml:"initial_equity"`
	OrderQuantity     float64 `yaml:"order_quantity"`
	CommissionPerUnit float64 `yaml:"commission_per_unit"`
	BarsPerSecond     float64 `yaml:"bars_per_second"` // 0 = full speed
	StrategyID        string  `yaml:"strategy_id"`
}

// ProtectionConfig holds protective-order settings.
type ProtectionConfig struct {
	AutoProtect           bool    `yaml:"auto_protect"`
	ATRPeriod             int     `yaml:"atr_period"`
	StopLossATRMultiple   float64 `yaml:"stop_loss_atr_multiple"`
	TakeProfitATRMultiple float64 `yaml:"take_profit_atr_multiple"`
}

// PersistenceConfig holds run archival settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file, expanding environment
// variables first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration, collecting every violation.
func (c *Config) Validate() error {
	var errs []string

	if c.Instrument.ID == "" {
		errs = append(errs, "instrument.id is required")
	}
	if c.Data.BarsPath == "" {
		errs = append(errs, "data.bars_path is required")
	}
	if c.Simulation.InitialEquity <= 0 {
		errs = append(errs, "simulation.initial_equity must be positive")
	}
	if c.Simulation.OrderQuantity <= 0 {
		errs = append(errs, "simulation.order_quantity must be positive")
	}
	if c.Simulation.CommissionPerUnit < 0 {
		errs = append(errs, "simulation.commission_per_unit must not be negative")
	}
	if c.Simulation.BarsPerSecond < 0 {
		errs = append(errs, "simulation.bars_per_second must not be negative")
	}
	if c.Protection.AutoProtect {
		if c.Protection.ATRPeriod <= 0 {
			errs = append(errs, "protection.atr_period must be positive")
		}
		if c.Protection.StopLossATRMultiple <= 0 {
			errs = append(errs, "protection.stop_loss_atr_multiple must be positive")
		}
		if c.Protection.TakeProfitATRMultiple <= 0 {
			errs = append(errs, "protection.take_profit_atr_multiple must be positive")
		}
	}
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be a valid port")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// InitialEquityDecimal returns initial equity as decimal.
func (c *Config) InitialEquityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Simulation.InitialEquity)
}

// OrderQuantityDecimal returns the per-signal order quantity as decimal.
func (c *Config) OrderQuantityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Simulation.OrderQuantity)
}

// CommissionDecimal returns the per-unit commission as decimal.
func (c *Config) CommissionDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Simulation.CommissionPerUnit)
}
