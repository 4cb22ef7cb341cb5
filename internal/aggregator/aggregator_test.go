package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalpipe/internal/candle"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func update(symbol string, tf candle.Timeframe, openTime int64, close float64, final bool) KlineUpdate {
	return KlineUpdate{
		Symbol: symbol, Timeframe: tf,
		OpenTime: openTime, CloseTime: openTime + tf.Duration().Milliseconds() - 1,
		Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 10,
		IsFinal: final,
	}
}

func TestIngest_CommitsOnNewOpenTime(t *testing.T) {
	var mu sync.Mutex
	var committed []candle.Candle
	done := make(chan struct{}, 10)

	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) {
		mu.Lock()
		committed = append(committed, ev.Candle)
		mu.Unlock()
		done <- struct{}{}
	})
	defer agg.Close()

	ctx := context.Background()
	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1m}

	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 0, 100, false)))
	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 0, 101, false)))
	// no commit yet: still same bucket
	assert.Nil(t, agg.Snapshot(key))

	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 60000, 105, false)))
	// the first bucket should have committed
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close callback")
	}

	mu.Lock()
	require.Len(t, committed, 1)
	assert.Equal(t, 101.0, committed[0].Close)
	mu.Unlock()

	snap := agg.Snapshot(key)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Len())
}

func TestIngest_FinalFlagCommitsImmediately(t *testing.T) {
	done := make(chan CloseEvent, 1)
	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) { done <- ev })
	defer agg.Close()

	ctx := context.Background()
	require.NoError(t, agg.Ingest(ctx, update("ETHUSDT", candle.TF5m, 0, 50, false)))
	require.NoError(t, agg.Ingest(ctx, update("ETHUSDT", candle.TF5m, 0, 52, true)))

	select {
	case ev := <-done:
		assert.Equal(t, 52.0, ev.Candle.Close)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close callback")
	}
}

func TestIngest_DropsStaleOpenTime(t *testing.T) {
	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) {})
	defer agg.Close()

	ctx := context.Background()
	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 60000, 100, true)))
	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 0, 99, true)))

	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1m}
	snap := agg.Snapshot(key)
	require.NotNil(t, snap)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, int64(60000), snap.Candles()[0].OpenTime)
}

func TestIngest_RejectsMissingKeyFields(t *testing.T) {
	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) {})
	defer agg.Close()

	err := agg.Ingest(context.Background(), KlineUpdate{OpenTime: 0})
	assert.Error(t, err)
}

func TestIngest_PersistErrorAbortsCommit(t *testing.T) {
	calls := 0
	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) {},
		WithPersist(func(ctx context.Context, c candle.Candle) error {
			calls++
			return assert.AnError
		}))
	defer agg.Close()

	ctx := context.Background()
	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 0, 100, false)))
	err := agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 60000, 105, false))
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIngest_DifferentKeysDispatchConcurrently(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)

	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) {
		mu.Lock()
		seen[ev.Key.Symbol] = true
		mu.Unlock()
		wg.Done()
	}, WithWorkers(4))
	defer agg.Close()

	ctx := context.Background()
	require.NoError(t, agg.Ingest(ctx, update("BTCUSDT", candle.TF1m, 0, 100, true)))
	require.NoError(t, agg.Ingest(ctx, update("ETHUSDT", candle.TF1m, 0, 200, true)))

	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	assert.True(t, seen["BTCUSDT"])
	assert.True(t, seen["ETHUSDT"])
	mu.Unlock()
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for waitgroup")
	}
}

func TestWarmStart_PopulatesWindow(t *testing.T) {
	agg := New(noopLogger(), func(ctx context.Context, ev CloseEvent) {})
	defer agg.Close()

	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h}
	candles := []candle.Candle{
		{Symbol: "BTCUSDT", Timeframe: candle.TF1h, OpenTime: 0, CloseTime: 3599999, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Symbol: "BTCUSDT", Timeframe: candle.TF1h, OpenTime: 3600000, CloseTime: 7199999, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 1},
	}
	require.NoError(t, agg.WarmStart(key, candles))

	snap := agg.Snapshot(key)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Len())
}
