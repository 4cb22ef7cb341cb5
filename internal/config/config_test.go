package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ValidConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `
symbols: ["BTCUSDT", "ETHUSDT"]
timeframes: ["15m", "1h"]
postgres:
  dsn: "postgres://localhost/signalpipe"
stream_url: "wss://stream.example.com"
history_url: "https://api.example.com"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.55, cfg.MinConfidence)
	assert.Equal(t, int64(300), cfg.CooldownSeconds)
	assert.True(t, cfg.PreventConflicts)
	assert.Len(t, cfg.Keys(), 4)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsEmptySymbols(t *testing.T) {
	cfg := Default()
	cfg.Timeframes = []string{"1h"}
	cfg.Postgres.DSN = "x"
	cfg.StreamURL = "x"
	cfg.HistoryURL = "x"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "symbols")
}

func TestValidate_RejectsUnknownTimeframe(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Timeframes = []string{"7m"}
	cfg.Postgres.DSN = "x"
	cfg.StreamURL = "x"
	cfg.HistoryURL = "x"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "timeframe")
}

func TestValidate_RejectsTooManyStreams(t *testing.T) {
	cfg := Default()
	cfg.Symbols = make([]string, 41)
	for i := range cfg.Symbols {
		cfg.Symbols[i] = "BTCUSDT"
	}
	cfg.Timeframes = []string{"1m", "5m", "15m", "1h", "4h"}
	cfg.Postgres.DSN = "x"
	cfg.StreamURL = "x"
	cfg.HistoryURL = "x"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "subscription limit")
}

func TestValidate_RejectsOutOfRangeConfidence(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Timeframes = []string{"1h"}
	cfg.Postgres.DSN = "x"
	cfg.StreamURL = "x"
	cfg.HistoryURL = "x"
	cfg.MinConfidence = 1.5
	err := cfg.Validate()
	assert.ErrorContains(t, err, "min_confidence")
}

func TestValidate_RejectsMissingDSN(t *testing.T) {
	cfg := Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Timeframes = []string{"1h"}
	cfg.StreamURL = "x"
	cfg.HistoryURL = "x"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "dsn")
}
