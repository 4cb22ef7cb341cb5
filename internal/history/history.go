// Package history fetches the most recent closed candles for a
// (symbol, timeframe) key from the exchange's REST API, used to warm
// start the aggregator's window on startup (spec.md §4.2).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/signalpipe/internal/breaker"
	"github.com/sawpanic/signalpipe/internal/candle"
)

// Config tunes the REST client's timeout and retry policy.
type Config struct {
	BaseURL       string
	RequestTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		BackoffBase:    time.Second,
		BackoffMax:     10 * time.Second,
	}
}

// Client fetches closed candle history over HTTP, guarded by a circuit
// breaker so a misbehaving exchange doesn't stall the whole warm-start.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
	cache      *ResponseCache
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	log = log.With().Str("component", "history").Logger()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    breaker.New(breaker.DefaultConfig("history-client"), log),
		log:        log,
	}
}

// WithResponseCache attaches a Redis response cache checked before every
// REST fetch. Passing nil disables caching (the zero value already does).
func (c *Client) WithResponseCache(cache *ResponseCache) *Client {
	c.cache = cache
	return c
}

// klineRow mirrors the exchange's raw REST kline array shape:
// [open_time, open, high, low, close, volume, close_time, ...].
type klineRow []json.Number

// FetchRecent returns up to n most-recently-closed candles for key,
// oldest first, ready to hand to aggregator.WarmStart. It retries
// transient failures (network errors, 5xx) up to cfg.MaxRetries times
// with exponential backoff, and never retries a 4xx (treated as fatal).
func (c *Client) FetchRecent(ctx context.Context, key candle.Key, n int) ([]candle.Candle, error) {
	if !key.Timeframe.Valid() {
		return nil, fmt.Errorf("history: unknown timeframe %q", key.Timeframe)
	}

	if cached, ok := c.cache.Get(ctx, key, n); ok {
		return cached, nil
	}

	var candles []candle.Candle
	op := func() (any, error) {
		rows, err := c.fetch(ctx, key, n)
		if err != nil {
			return nil, err
		}
		candles, err = parseRows(key, rows)
		return nil, err
	}

	backoff := c.cfg.BackoffBase
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		_, err := c.breaker.Execute(op)
		if err == nil {
			c.cache.Set(ctx, key, n, candles)
			return candles, nil
		}
		lastErr = err
		if _, fatal := err.(*fatalError); fatal {
			return nil, err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Str("key", key.String()).
			Msg("history fetch failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	return nil, fmt.Errorf("history: exhausted retries for %s: %w", key, lastErr)
}

// fatalError marks a response that retrying cannot fix (bad request,
// unknown symbol, auth failure) — spec.md §4.2's "fatal vs transient"
// distinction.
type fatalError struct{ error }

func (c *Client) fetch(ctx context.Context, key candle.Key, n int) ([]klineRow, error) {
	url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&limit=%d", c.cfg.BaseURL, key.Symbol, key.Timeframe, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &fatalError{fmt.Errorf("history: build request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("history: read body: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &fatalError{fmt.Errorf("history: client error %d: %s", resp.StatusCode, body)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("history: server error %d: %s", resp.StatusCode, body)
	}

	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &fatalError{fmt.Errorf("history: malformed response: %w", err)}
	}
	return rows, nil
}

func parseRows(key candle.Key, rows []klineRow) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, &fatalError{fmt.Errorf("history: short kline row for %s: %d fields", key, len(row))}
		}
		c := candle.Candle{Symbol: key.Symbol, Timeframe: key.Timeframe}
		var err error
		if c.OpenTime, err = row[0].Int64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: open_time: %w", err)}
		}
		if c.Open, err = row[1].Float64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: open: %w", err)}
		}
		if c.High, err = row[2].Float64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: high: %w", err)}
		}
		if c.Low, err = row[3].Float64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: low: %w", err)}
		}
		if c.Close, err = row[4].Float64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: close: %w", err)}
		}
		if c.Volume, err = row[5].Float64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: volume: %w", err)}
		}
		if c.CloseTime, err = row[6].Int64(); err != nil {
			return nil, &fatalError{fmt.Errorf("history: close_time: %w", err)}
		}
		out = append(out, c)
	}
	return out, nil
}
