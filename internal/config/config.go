// Package config loads the pipeline's YAML configuration surface
// (spec.md §6's configuration table) into a typed struct, failing fast
// on anything invalid at startup (spec.md §7, "configuration invalid at
// startup: fatal").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/signalpipe/internal/candle"
)

// Config is the full recognized configuration surface.
type Config struct {
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`

	WindowSize      int `yaml:"window_size"`
	StartupCandles  int `yaml:"startup_candles"`
	MinCandles      int `yaml:"min_candles"`

	MinConfidence         float64 `yaml:"min_confidence"`
	CooldownSeconds       int64   `yaml:"cooldown_seconds"`
	PreventConflicts      bool    `yaml:"prevent_conflicts"`
	ConflictWindowSeconds int64   `yaml:"conflict_window_seconds"`

	ATRStopMult       float64 `yaml:"atr_sl_mult"`
	ATRTakeProfitMult float64 `yaml:"atr_tp_mult"`

	EnableWyckoff bool `yaml:"enable_wyckoff"`
	EnableElliott bool `yaml:"enable_elliott"`
	EnableRSI     bool `yaml:"enable_rsi"`
	EnableMACD    bool `yaml:"enable_macd"`

	StreamURL  string `yaml:"stream_url"`
	HistoryURL string `yaml:"history_url"`

	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	LogLevel string         `yaml:"log_level"`
}

type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

// Default returns a Config populated with every spec.md §6 default.
func Default() Config {
	return Config{
		WindowSize:            candle.DefaultWindowSize,
		StartupCandles:        500,
		MinCandles:            candle.MinUsableWindow,
		MinConfidence:         0.55,
		CooldownSeconds:       300,
		PreventConflicts:      true,
		ConflictWindowSeconds: 3600,
		ATRStopMult:           2.0,
		ATRTakeProfitMult:     3.0,
		EnableWyckoff:         true,
		EnableElliott:         true,
		EnableRSI:             true,
		EnableMACD:            true,
		LogLevel:              "info",
		Postgres:              PostgresConfig{QueryTimeout: 5 * time.Second, MaxOpenConns: 10},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// field the file leaves zero, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Validate checks every invariant the pipeline depends on at startup.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	for _, sym := range c.Symbols {
		if !candle.IsUSDTSymbol(sym) {
			return fmt.Errorf("config: symbol %q is not an uppercase USDT ticker", sym)
		}
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("config: timeframes must not be empty")
	}
	for _, tf := range c.Timeframes {
		if !candle.Timeframe(tf).Valid() {
			return fmt.Errorf("config: unknown timeframe %q", tf)
		}
	}
	if len(c.Symbols)*len(c.Timeframes) > 200 {
		return fmt.Errorf("config: %d symbols x %d timeframes exceeds the 200-stream subscription limit",
			len(c.Symbols), len(c.Timeframes))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence must be in [0,1], got %v", c.MinConfidence)
	}
	if c.WindowSize < c.MinCandles {
		return fmt.Errorf("config: window_size (%d) must be >= min_candles (%d)", c.WindowSize, c.MinCandles)
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.StreamURL == "" {
		return fmt.Errorf("config: stream_url is required")
	}
	if c.HistoryURL == "" {
		return fmt.Errorf("config: history_url is required")
	}
	return nil
}

// Keys expands Symbols x Timeframes into the concrete set of
// (symbol, timeframe) keys the pipeline subscribes to.
func (c Config) Keys() []candle.Key {
	keys := make([]candle.Key, 0, len(c.Symbols)*len(c.Timeframes))
	for _, sym := range c.Symbols {
		for _, tf := range c.Timeframes {
			keys = append(keys, candle.Key{Symbol: sym, Timeframe: candle.Timeframe(tf)})
		}
	}
	return keys
}
