package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/sawpanic/signalpipe/internal/candle"
)

// ResponseCache caches FetchRecent results in Redis, keyed by
// symbol/timeframe/n. A warm-start burst across many configured keys at
// process start otherwise repeats identical REST calls across short-lived
// restarts; caching the raw response changes no aggregation semantics
// since the aggregator still replays whatever candles it receives in
// order. A nil *ResponseCache (the default) disables caching entirely.
type ResponseCache struct {
	rdb *redisv8.Client
	ttl time.Duration
}

// NewResponseCache wraps rdb with a default 30s TTL if ttl <= 0.
func NewResponseCache(rdb *redisv8.Client, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ResponseCache{rdb: rdb, ttl: ttl}
}

// NewAutoResponseCache connects to REDIS_ADDR if set, or returns nil (no
// caching) — the same environment-gated construction the teacher's
// cache.NewAuto uses, kept on the older v8 client here since this cache
// and the aggregator's rediscache.Cache are independent concerns that
// happen to both depend on Redis.
func NewAutoResponseCache(ttl time.Duration) *ResponseCache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return NewResponseCache(redisv8.NewClient(&redisv8.Options{Addr: addr}), ttl)
}

func cacheKey(key candle.Key, n int) string {
	return fmt.Sprintf("signalpipe:history:%s:%d", key.String(), n)
}

// Get returns a cached candle slice, or ok=false on a miss or any error
// (a cache miss is never fatal — the caller falls back to the REST call).
func (c *ResponseCache) Get(ctx context.Context, key candle.Key, n int) ([]candle.Candle, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, cacheKey(key, n)).Bytes()
	if err != nil {
		return nil, false
	}
	var candles []candle.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, false
	}
	return candles, true
}

// Set stores candles under key/n. Errors are not surfaced: a failed cache
// write just means the next warm start repeats the REST call.
func (c *ResponseCache) Set(ctx context.Context, key candle.Key, n int, candles []candle.Candle) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(candles)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, cacheKey(key, n), data, c.ttl)
}
