package rediscache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/signalpipe/internal/candle"
)

func TestNilCache_LoadWindowIsMiss(t *testing.T) {
	var c *Cache
	candles, ok := c.LoadWindow(context.Background(), candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h})
	assert.False(t, ok)
	assert.Nil(t, candles)
}

func TestNilCache_SaveWindowIsNoop(t *testing.T) {
	var c *Cache
	err := c.SaveWindow(context.Background(), candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h}, nil)
	assert.NoError(t, err)
}

func TestNewAuto_NoEnvReturnsNil(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	c := NewAuto(time.Minute)
	assert.Nil(t, c)
}

func TestLoadWindow_UnreachableRedisIsMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	c := New(rdb, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, ok := c.LoadWindow(ctx, candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h})
	assert.False(t, ok)
}

func TestWindowKey_IncludesSymbolAndTimeframe(t *testing.T) {
	key := candle.Key{Symbol: "ETHUSDT", Timeframe: candle.TF15m}
	assert.Contains(t, windowKey(key), "ETHUSDT")
	assert.Contains(t, windowKey(key), "15m")
}
