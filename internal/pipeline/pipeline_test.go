package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalpipe/internal/aggregator"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/config"
	"github.com/sawpanic/signalpipe/internal/fuser"
)

type fakeStore struct {
	candles []candle.Candle
	signals []fuser.Signal
}

func (f *fakeStore) UpsertCandle(ctx context.Context, c candle.Candle) error {
	f.candles = append(f.candles, c)
	return nil
}
func (f *fakeStore) InsertSignal(ctx context.Context, sig fuser.Signal) error {
	f.signals = append(f.signals, sig)
	return nil
}
func (f *fakeStore) RecentSignals(ctx context.Context, symbol string, limit int) ([]fuser.Signal, error) {
	return f.signals, nil
}
func (f *fakeStore) DeleteCandlesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.Timeframes = []string{"1h"}
	cfg.Postgres.DSN = "postgres://x"
	cfg.StreamURL = "ws://127.0.0.1:1"
	cfg.HistoryURL = "http://127.0.0.1:1"
	cfg.MinCandles = 2
	return cfg
}

func TestNew_WiresAllComponentsWithoutError(t *testing.T) {
	cfg := testConfig()
	st := &fakeStore{}
	p, err := New(cfg, st, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, p)

	status := p.Status()
	assert.Equal(t, int64(0), status.Emitted)
	assert.Len(t, status.Keys, 1)
}

func TestOnClose_BelowMinCandlesSkipsFusion(t *testing.T) {
	cfg := testConfig()
	st := &fakeStore{}
	p, err := New(cfg, st, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h}
	w := candle.NewWindow(key, 10)
	w.Append(candle.Candle{Symbol: "BTCUSDT", Timeframe: candle.TF1h, OpenTime: 0, CloseTime: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})

	p.onClose(context.Background(), aggregator.CloseEvent{Key: key, Candle: w.Candles()[0], Window: w})

	assert.Equal(t, int64(0), p.Status().Emitted)
}
