// Package rediscache persists a key's committed-candle window to Redis so
// a restart can warm start from the last known state before falling back
// to the history client's REST fetch, modeled on the teacher's
// cache.NewAuto Redis-or-memory pattern.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sawpanic/signalpipe/internal/candle"
)

// Cache persists and retrieves per-key candle windows.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps rdb with ttl (default 24h if ttl <= 0).
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// NewAuto connects to REDIS_ADDR if set, or returns nil (caller treats a
// nil *Cache as "no warm-start cache available" and relies on history
// alone), mirroring the teacher's environment-gated Redis-or-nothing
// construction.
func NewAuto(ttl time.Duration) *Cache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return New(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

func windowKey(key candle.Key) string { return "signalpipe:window:" + key.String() }

// SaveWindow persists candles (oldest first) for key.
func (c *Cache) SaveWindow(ctx context.Context, key candle.Key, candles []candle.Candle) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("rediscache: marshal window %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, windowKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: save window %s: %w", key, err)
	}
	return nil
}

// LoadWindow returns the cached candles for key, or ok=false on a miss —
// never an error the caller must handle specially, since the history
// client is always a valid fallback.
func (c *Cache) LoadWindow(ctx context.Context, key candle.Key) ([]candle.Candle, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, windowKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var candles []candle.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, false
	}
	return candles, true
}
