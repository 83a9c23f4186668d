package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/livetrader/breaker"
	"github.com/rustyeddy/livetrader/engine"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/logging"
	"github.com/rustyeddy/livetrader/resilience"
	"github.com/rustyeddy/livetrader/risk"
	"github.com/rustyeddy/livetrader/strategies"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvKillSwitchFile = "LIVETRADER_KILLSWITCH_FILE"
	EnvLogLevel       = "LIVETRADER_LOG_LEVEL"
	EnvMetricsAddr    = "LIVETRADER_METRICS_ADDR"
	EnvJournalPath    = "LIVETRADER_JOURNAL_PATH"
)

// Config represents the complete live trading configuration
type Config struct {
	KillSwitch  KillSwitchConfig   `json:"killswitch" yaml:"killswitch"`
	Retry       resilience.Policy  `json:"retry" yaml:"retry"`
	Engine      EngineConfig       `json:"engine" yaml:"engine"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	Gateway     GatewayConfig      `json:"gateway" yaml:"gateway"`
	Journal     journal.Config     `json:"journal" yaml:"journal"`
	Log         logging.Config     `json:"log" yaml:"log"`
	Telemetry   TelemetryConfig    `json:"telemetry" yaml:"telemetry"`
}

type KillSwitchConfig struct {
	LockFile      string        `json:"lock_file" yaml:"lock_file"`
	WatchInterval time.Duration `json:"watch_interval" yaml:"watch_interval"`
}

// EngineConfig applies to every instrument engine.
type EngineConfig struct {
	Units         float64       `json:"units" yaml:"units"`
	MaxPosition   float64       `json:"max_position" yaml:"max_position"`
	MaxOrderUnits float64       `json:"max_order_units" yaml:"max_order_units"`
	LatencyBudget time.Duration `json:"latency_budget" yaml:"latency_budget"`
}

type InstrumentConfig struct {
	Name string `json:"name" yaml:"name"`
	// Feed is a CSV tick file (time,instrument,bid,ask[,volume]).
	Feed       string `json:"feed" yaml:"feed"`
	Strategy   string `json:"strategy" yaml:"strategy"`
	FastPeriod int    `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod int    `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
}

// GatewayConfig configures the simulated venue.
type GatewayConfig struct {
	Latency time.Duration `json:"latency" yaml:"latency"`
}

type TelemetryConfig struct {
	// ListenAddr serves /metrics; empty disables the server.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// LoadEnv loads a .env file from the working directory, if present.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, applies
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	cfg.Instruments = nil

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		cfg.Instruments = nil
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from the LIVETRADER_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvKillSwitchFile)); v != "" {
		c.KillSwitch.LockFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetricsAddr)); v != "" {
		c.Telemetry.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJournalPath)); v != "" {
		c.Journal.Type = "sqlite"
		c.Journal.DBPath = v
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.KillSwitch.WatchInterval < 0 {
		return fmt.Errorf("killswitch.watch_interval must be >= 0")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Engine.Units <= 0 {
		return fmt.Errorf("engine.units must be positive")
	}
	if err := c.Limits().Validate(); err != nil {
		return err
	}
	if c.Engine.LatencyBudget < 0 {
		return fmt.Errorf("engine.latency_budget must be >= 0")
	}
	if c.Gateway.Latency < 0 {
		return fmt.Errorf("gateway.latency must be >= 0")
	}

	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := map[string]bool{}
	for i, in := range c.Instruments {
		if in.Name == "" {
			return fmt.Errorf("instruments[%d].name is required", i)
		}
		if seen[in.Name] {
			return fmt.Errorf("instrument %s listed twice", in.Name)
		}
		seen[in.Name] = true
		if in.Feed == "" {
			return fmt.Errorf("instrument %s: feed is required", in.Name)
		}
		if _, err := strategies.ByName(in.Strategy, in.Params()); err != nil {
			return fmt.Errorf("instrument %s: %w", in.Name, err)
		}
	}

	switch c.Journal.Type {
	case "", "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.TicksFile == "" || c.Journal.OrdersFile == "" {
			return fmt.Errorf("journal ticks_file and orders_file required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be 'json' or 'text'")
	}
	return nil
}

func (in InstrumentConfig) Params() strategies.Params {
	return strategies.Params{
		Instrument: in.Name,
		FastPeriod: in.FastPeriod,
		SlowPeriod: in.SlowPeriod,
	}
}

func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		MaxOrderUnits: c.Engine.MaxOrderUnits,
		MaxPosition:   c.Engine.MaxPosition,
	}
}

// EngineTemplate is the engine.Config shared by every instrument.
func (c *Config) EngineTemplate() engine.Config {
	return engine.Config{
		Units:         c.Engine.Units,
		Limits:        c.Limits(),
		Retry:         c.Retry,
		LatencyBudget: c.Engine.LatencyBudget,
	}
}

// Instrument returns the entry for name.
func (c *Config) Instrument(name string) (InstrumentConfig, bool) {
	for _, in := range c.Instruments {
		if in.Name == name {
			return in, true
		}
	}
	return InstrumentConfig{}, false
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		KillSwitch: KillSwitchConfig{
			LockFile:      "./killswitch.lock",
			WatchInterval: breaker.DefaultWatchInterval,
		},
		Retry: resilience.DefaultPolicy(),
		Engine: EngineConfig{
			Units:         engine.DefaultUnits,
			MaxPosition:   100000,
			MaxOrderUnits: 10000,
			LatencyBudget: 10 * time.Millisecond,
		},
		Instruments: []InstrumentConfig{
			{Name: "EUR_USD", Feed: "./data/eur_usd.csv", Strategy: "ema-cross", FastPeriod: 10, SlowPeriod: 30},
			{Name: "GBP_USD", Feed: "./data/gbp_usd.csv", Strategy: "ema-cross", FastPeriod: 10, SlowPeriod: 30},
		},
		Gateway: GatewayConfig{
			Latency: time.Millisecond,
		},
		Journal: journal.Config{
			Type:   "sqlite",
			DBPath: "./livetrader.db",
		},
		Log: logging.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ListenAddr: ":9102",
		},
	}
}
