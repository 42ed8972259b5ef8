// Package config loads and validates the full bot configuration from a
// YAML (or JSON) file. Secrets never live here: API keys and webhook
// URLs come from the environment at startup.
//
// Duration fields are nanosecond integers in the file; unset fields
// fall back to the package defaults.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/evobot/alerts"
	"github.com/rustyeddy/evobot/engine"
	"github.com/rustyeddy/evobot/evolve"
	"github.com/rustyeddy/evobot/gate"
	"github.com/rustyeddy/evobot/indicators"
	"github.com/rustyeddy/evobot/monitor"
	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/risk"
	"github.com/rustyeddy/evobot/runner"
	"github.com/rustyeddy/evobot/strategies"
)

// BotConfig declares one symbol worker.
type BotConfig struct {
	ID      string            `json:"id" yaml:"id"`
	Symbol  string            `json:"symbol" yaml:"symbol"`
	Bucket  time.Duration     `json:"bucket" yaml:"bucket"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Params  strategies.Params `json:"params" yaml:"params"`
}

// TelemetryConfig controls the websocket metrics endpoint.
type TelemetryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// StoreConfig points at the SQLite database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Config is the complete runtime configuration.
type Config struct {
	Equity float64 `json:"equity" yaml:"equity"` // starting equity per bot

	Bots       []BotConfig            `json:"bots" yaml:"bots"`
	Indicators indicators.CacheConfig `json:"indicators" yaml:"indicators"`
	Risk       risk.Limits            `json:"risk" yaml:"risk"`
	Portfolio  risk.PortfolioLimits   `json:"portfolio" yaml:"portfolio"`
	Gate       gate.Config            `json:"gate" yaml:"gate"`

	Engine    string                 `json:"engine" yaml:"engine"` // "sim" or "binance"
	Sim       engine.SimConfig       `json:"sim" yaml:"sim"`
	Resilient engine.ResilientConfig `json:"resilient" yaml:"resilient"`
	Binance   engine.BinanceConfig   `json:"binance" yaml:"binance"`

	Runner    runner.Config   `json:"runner" yaml:"runner"`
	Evolve    evolve.Config   `json:"evolve" yaml:"evolve"`
	Monitor   monitor.Config  `json:"monitor" yaml:"monitor"`
	Alerts    alerts.Config   `json:"alerts" yaml:"alerts"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Store     StoreConfig     `json:"store" yaml:"store"`

	// ReloadEvery is how often portfolio limits are re-read from the
	// file while running.
	ReloadEvery time.Duration `json:"reload_every" yaml:"reload_every"`
}

// Default returns a runnable sim configuration for one EURUSD bot.
func Default() *Config {
	return &Config{
		Equity: 10000,
		Bots: []BotConfig{{
			ID:      "bot-eurusd",
			Symbol:  "EURUSD",
			Bucket:  time.Minute,
			Enabled: true,
			Params:  strategies.DefaultParams(),
		}},
		Risk:        risk.DefaultLimits(),
		Portfolio:   risk.DefaultPortfolioLimits(),
		Gate:        gate.DefaultConfig(),
		Engine:      "sim",
		Sim:         engine.DefaultSimConfig(),
		Resilient:   engine.DefaultResilientConfig(),
		Runner:      runner.DefaultConfig(),
		Evolve:      evolve.DefaultConfig(),
		Monitor:     monitor.DefaultConfig(),
		Telemetry:   TelemetryConfig{Enabled: false, Addr: ":8089"},
		Store:       StoreConfig{Path: "./evobot.sqlite"},
		ReloadEvery: time.Hour,
	}
}

// Load reads, parses and validates a config file. YAML is tried first,
// then JSON. An invalid file is rejected outright; there is no partial
// load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", yerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the config back out, YAML for .yaml/.yml and indented
// JSON otherwise.
func (c *Config) Save(path string) error {
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
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c *Config) Validate() error {
	if c.Equity <= 0 {
		return fmt.Errorf("equity must be positive")
	}
	if len(c.Bots) == 0 {
		return fmt.Errorf("at least one bot is required")
	}
	seen := map[string]bool{}
	for i, b := range c.Bots {
		if b.ID == "" {
			return fmt.Errorf("bots[%d].id is required", i)
		}
		if b.Symbol == "" {
			return fmt.Errorf("bot %s: symbol is required", b.ID)
		}
		if seen[b.Symbol] {
			return fmt.Errorf("bot %s: duplicate symbol %s", b.ID, b.Symbol)
		}
		seen[b.Symbol] = true
		if b.Bucket < 0 {
			return fmt.Errorf("bot %s: bucket must not be negative", b.ID)
		}
	}
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct > 100 {
		return fmt.Errorf("risk.risk_pct must be in (0, 100]")
	}
	if c.Risk.MinRR < 0 {
		return fmt.Errorf("risk.min_rr must not be negative")
	}
	if c.Portfolio.MaxDailyLossPct <= 0 || c.Portfolio.MaxOpenRisk <= 0 {
		return fmt.Errorf("portfolio limits must be positive")
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("gate.threshold must be in [0, 1]")
	}
	switch c.Engine {
	case "sim", "binance":
	default:
		return fmt.Errorf("engine must be 'sim' or 'binance', got %q", c.Engine)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// Watch re-reads the file on a ticker and hands each valid new config
// to apply. A file that fails to load or validate is skipped with a
// log line; the running config stays untouched.
func Watch(ctx context.Context, path string, every time.Duration, apply func(*Config)) {
	if every <= 0 {
		every = time.Hour
	}
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			cfg, err := Load(path)
			if err != nil {
				observ.Error("config_reload_failed", err, map[string]any{"path": path})
				continue
			}
			apply(cfg)
		}
	}
}
