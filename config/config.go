// Package config loads the YAML (or JSON) file that drives backtests and
// the live loop.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/intraday/backtest"
	"github.com/rustyeddy/intraday/broker"
	"github.com/rustyeddy/intraday/market"
	"github.com/rustyeddy/intraday/markethours"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signals"
)

// Environment variables that override file values.
const (
	EnvDBPath   = "INTRADAY_DB_PATH"
	EnvLogLevel = "INTRADAY_LOG_LEVEL"
)

// Config represents the complete bot configuration
type Config struct {
	Account  AccountConfig          `json:"account" yaml:"account"`
	Assets   map[string]AssetConfig `json:"assets" yaml:"assets"`
	Scorer   signals.ScorerConfig   `json:"scorer" yaml:"scorer"`
	Risk     risk.Policy            `json:"risk" yaml:"risk"`
	Hours    HoursConfig            `json:"hours" yaml:"hours"`
	Backtest BacktestConfig         `json:"backtest" yaml:"backtest"`
	Live     LiveConfig             `json:"live" yaml:"live"`
	Journal  JournalConfig          `json:"journal" yaml:"journal"`
	Log      LogConfig              `json:"log" yaml:"log"`
}

type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// AssetConfig carries the instrument and per-asset overrides. Zero values
// keep the global setting.
type AssetConfig struct {
	Enabled  *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Leverage float64 `json:"leverage,omitempty" yaml:"leverage,omitempty"`
	MinSize  float64 `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	Step     float64 `json:"step,omitempty" yaml:"step,omitempty"`

	MaxMarginPerAsset float64 `json:"max_margin_per_asset,omitempty" yaml:"max_margin_per_asset,omitempty"`
	StopLossPct       float64 `json:"sl_percent,omitempty" yaml:"sl_percent,omitempty"`
	TakeProfitPct     float64 `json:"tp_percent,omitempty" yaml:"tp_percent,omitempty"`

	signals.Override `yaml:",inline"`
}

// IsEnabled treats a missing flag as enabled.
func (a AssetConfig) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// HoursConfig is the trading window in a form that reads well in YAML.
type HoursConfig struct {
	Start    string   `json:"start" yaml:"start"` // "09:00"
	End      string   `json:"end" yaml:"end"`
	Days     []string `json:"days" yaml:"days"` // "mon".."sun"
	Timezone string   `json:"timezone" yaml:"timezone"`
	Holidays []string `json:"holidays,omitempty" yaml:"holidays,omitempty"` // "2006-01-02"
	Disabled bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type BacktestConfig struct {
	EntryAtNextOpen   bool    `json:"entry_at_next_open" yaml:"entry_at_next_open"`
	CloseAtEnd        bool    `json:"close_at_end" yaml:"close_at_end"`
	GateHours         bool    `json:"gate_hours" yaml:"gate_hours"`
	CloseOutsideHours bool    `json:"close_outside_hours" yaml:"close_outside_hours"`
	Commission        float64 `json:"commission" yaml:"commission"`
	SpreadPoints      float64 `json:"spread_points,omitempty" yaml:"spread_points,omitempty"`
	PointValue        float64 `json:"point_value,omitempty" yaml:"point_value,omitempty"`
	Timeframe         string  `json:"timeframe" yaml:"timeframe"`
	SlowTimeframe     string  `json:"slow_timeframe,omitempty" yaml:"slow_timeframe,omitempty"`
	RegimeADX         float64 `json:"regime_adx" yaml:"regime_adx"`
	RegimeATRPercent  float64 `json:"regime_atr_percent" yaml:"regime_atr_percent"`
	PeriodsPerYear    float64 `json:"periods_per_year,omitempty" yaml:"periods_per_year,omitempty"`
}

type LiveConfig struct {
	Interval    string `json:"interval" yaml:"interval"`
	Timeframe   string `json:"timeframe" yaml:"timeframe"`
	History     int    `json:"history" yaml:"history"` // bars fetched per asset each cycle
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	StartPaused bool   `json:"start_paused,omitempty" yaml:"start_paused,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type   string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadFromFile loads configuration from a file (YAML first, then JSON),
// applies environment overrides and validates the result. Sections missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes data over Default without validating. An assets section
// replaces the default assets rather than merging with them.
func Parse(data []byte) (*Config, error) {
	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = base()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}
	if cfg.Assets == nil {
		cfg.Assets = Default().Assets
	}
	return cfg, nil
}

func base() *Config {
	c := Default()
	c.Assets = nil
	return c
}

// ApplyEnv overrides file values from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Journal.DBPath = v
		if c.Journal.Type == "" || c.Journal.Type == "none" {
			c.Journal.Type = "sqlite"
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON
// otherwise).
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
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if len(c.EnabledAssets()) == 0 {
		return fmt.Errorf("at least one enabled asset is required")
	}
	for name, a := range c.Assets {
		if a.Leverage < 0 || a.MinSize < 0 || a.Step < 0 {
			return fmt.Errorf("assets.%s: leverage, min_size and step must not be negative", name)
		}
		if a.MaxMarginPerAsset < 0 || a.MaxMarginPerAsset > 1 {
			return fmt.Errorf("assets.%s.max_margin_per_asset must be within [0,1]", name)
		}
		if (a.StopLossPct > 0) != (a.TakeProfitPct > 0) {
			return fmt.Errorf("assets.%s: sl_percent and tp_percent must be set together", name)
		}
		if a.StopLossPct < 0 || a.TakeProfitPct < 0 {
			return fmt.Errorf("assets.%s: sl_percent and tp_percent must be positive", name)
		}
		if err := c.Scorer.ForAsset(a.Override).Validate(); err != nil {
			return fmt.Errorf("assets.%s: %w", name, err)
		}
	}
	if err := c.Scorer.Validate(); err != nil {
		return fmt.Errorf("scorer: %w", err)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if _, err := c.BacktestOptions("check"); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if _, err := c.LiveInterval(); err != nil {
		return fmt.Errorf("live: %w", err)
	}
	if _, err := market.ParseTimeframe(c.Live.Timeframe); err != nil {
		return fmt.Errorf("live.timeframe: %w", err)
	}
	switch c.Journal.Type {
	case "none", "":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal dir required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}
	return nil
}

// Window converts the hours section into a trading window.
func (h HoursConfig) Window() (markethours.Window, error) {
	if h.Disabled {
		return markethours.Always(), nil
	}
	w := markethours.Default()
	var err error
	if h.Start != "" {
		if w.Start, err = markethours.ParseClock(h.Start); err != nil {
			return w, err
		}
	}
	if h.End != "" {
		if w.End, err = markethours.ParseClock(h.End); err != nil {
			return w, err
		}
	}
	if len(h.Days) > 0 {
		w.Days = w.Days[:0:0]
		for _, d := range h.Days {
			wd, err := markethours.ParseWeekday(d)
			if err != nil {
				return w, err
			}
			w.Days = append(w.Days, wd)
		}
	}
	if h.Timezone != "" {
		loc, err := time.LoadLocation(h.Timezone)
		if err != nil {
			return w, fmt.Errorf("timezone: %w", err)
		}
		w.Location = loc
	}
	w.Holidays = append([]string(nil), h.Holidays...)
	return w, w.Validate()
}

// Policy returns the validated risk policy with the trading window applied.
func (c *Config) Policy() (risk.Policy, error) {
	p := c.Risk
	w, err := c.Hours.Window()
	if err != nil {
		return risk.Policy{}, fmt.Errorf("%w: hours: %v", risk.ErrInvalidConfiguration, err)
	}
	p.Hours = w
	return risk.NewPolicy(p)
}

// EnabledAssets returns the enabled asset names, sorted.
func (c *Config) EnabledAssets() []string {
	var out []string
	for name, a := range c.Assets {
		if a.IsEnabled() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Config) Instruments() map[string]broker.Instrument {
	out := make(map[string]broker.Instrument, len(c.Assets))
	for name, a := range c.Assets {
		lev := a.Leverage
		if lev == 0 {
			lev = 1
		}
		out[name] = broker.Instrument{Symbol: name, Leverage: lev, MinSize: a.MinSize, Step: a.Step}
	}
	return out
}

func (c *Config) Overrides() map[string]signals.Override {
	out := make(map[string]signals.Override, len(c.Assets))
	for name, a := range c.Assets {
		out[name] = a.Override
	}
	return out
}

// AssetLimits returns the per-asset margin caps and static stops for the
// sizer.
func (c *Config) AssetLimits() map[string]risk.AssetLimits {
	out := map[string]risk.AssetLimits{}
	for name, a := range c.Assets {
		l := risk.AssetLimits{MaxMarginPerAsset: a.MaxMarginPerAsset}
		if a.StopLossPct > 0 && a.TakeProfitPct > 0 {
			l.Stops = &risk.StaticStops{
				BuySL: a.StopLossPct, BuyTP: a.TakeProfitPct,
				SellSL: a.StopLossPct, SellTP: a.TakeProfitPct,
			}
		}
		if l.MaxMarginPerAsset > 0 || l.Stops != nil {
			out[name] = l
		}
	}
	return out
}

// BacktestOptions converts the backtest section for a run.
func (c *Config) BacktestOptions(runID string) (backtest.Options, error) {
	b := c.Backtest
	opts := backtest.Options{
		EntryAtNextOpen:    b.EntryAtNextOpen,
		CloseAtEnd:         b.CloseAtEnd,
		GateHours:          b.GateHours,
		CloseOutsideHours:  b.CloseOutsideHours,
		CommissionPerTrade: b.Commission,
		SpreadPoints:       b.SpreadPoints,
		PointValue:         b.PointValue,
		RegimeADX:          b.RegimeADX,
		RegimeATRPercent:   b.RegimeATRPercent,
		PeriodsPerYear:     b.PeriodsPerYear,
		RunID:              runID,
	}
	if b.Commission < 0 {
		return opts, fmt.Errorf("commission must not be negative")
	}
	if b.SpreadPoints < 0 || b.PointValue < 0 {
		return opts, fmt.Errorf("spread_points and point_value must not be negative")
	}
	if _, err := market.ParseTimeframe(b.Timeframe); err != nil {
		return opts, fmt.Errorf("timeframe: %w", err)
	}
	if b.SlowTimeframe != "" {
		d, err := market.ParseTimeframe(b.SlowTimeframe)
		if err != nil {
			return opts, fmt.Errorf("slow_timeframe: %w", err)
		}
		opts.SlowTimeframe = d
	}
	return opts, nil
}

func (c *Config) LiveInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Live.Interval)
	if err != nil {
		return 0, fmt.Errorf("interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	return d, nil
}

func ptr[T any](v T) *T { return &v }

// Default returns a configuration with sensible defaults
func Default() *Config {
	policy := risk.DefaultPolicy()
	policy.Breakers = risk.Breakers{MaxDailyLossPct: 5, MaxConsecutiveLosses: 4}

	return &Config{
		Account: AccountConfig{
			ID:       "DEMO-001",
			Currency: "EUR",
			Balance:  10000,
		},
		Assets: map[string]AssetConfig{
			"GOLD": {
				Enabled: ptr(true), Leverage: 20, MinSize: 0.01, Step: 0.01,
				MaxMarginPerAsset: 0.30, StopLossPct: 6, TakeProfitPct: 12,
				Override: signals.Override{RSIOversold: 30, RSIOverbought: 75, MinConfidence: 0.55},
			},
			"TSLA": {
				Enabled: ptr(true), Leverage: 5, MinSize: 0.01, Step: 0.01,
				MaxMarginPerAsset: 0.25, StopLossPct: 10, TakeProfitPct: 18,
				Override: signals.Override{SMAShort: 8, SMALong: 40, RSIOversold: 25, RSIOverbought: 80, MinConfidence: 0.60},
			},
			"DE40": {
				Enabled: ptr(true), Leverage: 20, MinSize: 0.01, Step: 0.01,
				StopLossPct: 7, TakeProfitPct: 12,
			},
			"SP35": {
				Enabled: ptr(true), Leverage: 20, MinSize: 0.01, Step: 0.01,
			},
		},
		Scorer: signals.DefaultScorerConfig(),
		Risk:   policy,
		Hours: HoursConfig{
			Start:    "09:00",
			End:      "22:00",
			Days:     []string{"mon", "tue", "wed", "thu", "fri"},
			Timezone: "UTC",
		},
		Backtest: BacktestConfig{
			CloseAtEnd:       true,
			GateHours:        true,
			Timeframe:        "1h",
			RegimeADX:        25,
			RegimeATRPercent: 2,
		},
		Live: LiveConfig{
			Interval:  "5m",
			Timeframe: "1h",
			History:   200,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./intraday.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
