// Package stream maintains a persistent exchange kline WebSocket
// connection, reconnecting with exponential backoff and handing each
// parsed update to the aggregator (spec.md §4.1's ingestion source).
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/signalpipe/internal/aggregator"
	"github.com/sawpanic/signalpipe/internal/candle"
)

const (
	minReconnectDelay = 5 * time.Second
	maxReconnectDelay = 60 * time.Second
	maxStreams        = 200
	readTimeout       = 60 * time.Second
	pingInterval      = 30 * time.Second
)

// Handler receives every successfully parsed kline update. Typically this
// is aggregator.Aggregator.Ingest.
type Handler func(ctx context.Context, u aggregator.KlineUpdate) error

// Client is a single exchange WebSocket connection subscribed to up to
// maxStreams (symbol, timeframe) kline channels.
type Client struct {
	url     string
	keys    []candle.Key
	handler Handler
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New builds a stream client for the given base WebSocket URL and keys.
// Returns an error if keys exceeds the 200-stream exchange limit.
func New(baseURL string, keys []candle.Key, handler Handler, log zerolog.Logger) (*Client, error) {
	if len(keys) > maxStreams {
		return nil, fmt.Errorf("stream: %d keys exceeds max %d streams per connection", len(keys), maxStreams)
	}
	return &Client{
		url:     baseURL,
		keys:    keys,
		handler: handler,
		log:     log.With().Str("component", "stream").Logger(),
	}, nil
}

// Run connects and processes messages until ctx is canceled, reconnecting
// on transient failures with exponential backoff (5s, capped at 60s,
// reset to 5s once a new connection has delivered its first message).
// Run returns nil only when ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}
		received, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			delay = minReconnectDelay
		}
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("stream connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runOnce serves one connection. It reports whether that connection
// delivered at least one message before it ended.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return false, fmt.Errorf("stream: invalid url: %w", err)
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("stream: dial failed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	if err := c.subscribe(conn); err != nil {
		return false, fmt.Errorf("stream: subscribe failed: %w", err)
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	received := false

	for {
		select {
		case <-ctx.Done():
			return received, nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				return received, fmt.Errorf("stream: connection closed: %w", err)
			}
			return received, fmt.Errorf("stream: read error: %w", err)
		}
		received = true

		u, malformed := parseKlineMessage(data)
		if malformed != nil {
			c.log.Warn().Err(malformed).Msg("dropping malformed kline message")
			continue
		}
		if u == nil {
			continue // non-kline control message (subscription ack, heartbeat)
		}
		if err := c.handler(ctx, *u); err != nil {
			c.log.Error().Err(err).Str("symbol", u.Symbol).Str("tf", string(u.Timeframe)).
				Msg("handler rejected kline update")
		}
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	streams := make([]string, 0, len(c.keys))
	for _, k := range c.keys {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", lowerSymbol(k.Symbol), k.Timeframe))
	}
	req := subscriptionRequest{Method: "SUBSCRIBE", Params: streams, ID: 1}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

type subscriptionRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// rawKlineEnvelope mirrors an exchange combined-stream kline push.
type rawKlineEnvelope struct {
	Data struct {
		EventType string `json:"e"`
		Kline     struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			IsFinal   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func parseKlineMessage(data []byte) (*aggregator.KlineUpdate, error) {
	var env rawKlineEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("stream: unmarshal: %w", err)
	}
	k := env.Data.Kline
	if env.Data.EventType != "kline" || k.Symbol == "" {
		return nil, nil
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("stream: open: %w", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("stream: high: %w", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("stream: low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("stream: close: %w", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("stream: volume: %w", err)
	}
	tf := candle.Timeframe(k.Interval)
	if !tf.Valid() {
		return nil, fmt.Errorf("stream: unknown timeframe %q", k.Interval)
	}
	return &aggregator.KlineUpdate{
		Symbol: k.Symbol, Timeframe: tf,
		OpenTime: k.OpenTime, CloseTime: k.CloseTime,
		Open: open, High: high, Low: low, Close: closePrice, Volume: volume,
		IsFinal: k.IsFinal,
	}, nil
}

func lowerSymbol(sym string) string {
	b := []byte(sym)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
