package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalpipe/internal/aggregator"
	"github.com/sawpanic/signalpipe/internal/candle"
)

var upgrader = websocket.Upgrader{}

func TestParseKlineMessage_ValidFinal(t *testing.T) {
	msg := []byte(`{"data":{"e":"kline","k":{"t":0,"T":59999,"s":"BTCUSDT","i":"1m","o":"100.0","h":"101.0","l":"99.0","c":"100.5","v":"12.0","x":true}}}`)
	u, err := parseKlineMessage(msg)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "BTCUSDT", u.Symbol)
	assert.Equal(t, candle.TF1m, u.Timeframe)
	assert.True(t, u.IsFinal)
	assert.Equal(t, 100.5, u.Close)
}

func TestParseKlineMessage_NonKlineEventIgnored(t *testing.T) {
	msg := []byte(`{"data":{"e":"heartbeat"}}`)
	u, err := parseKlineMessage(msg)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestParseKlineMessage_MalformedNumberReturnsError(t *testing.T) {
	msg := []byte(`{"data":{"e":"kline","k":{"t":0,"T":59999,"s":"BTCUSDT","i":"1m","o":"notanumber","h":"101.0","l":"99.0","c":"100.5","v":"12.0","x":true}}}`)
	_, err := parseKlineMessage(msg)
	assert.Error(t, err)
}

func TestParseKlineMessage_UnknownTimeframeReturnsError(t *testing.T) {
	msg := []byte(`{"data":{"e":"kline","k":{"t":0,"T":1,"s":"BTCUSDT","i":"7m","o":"1","h":"1","l":"1","c":"1","v":"1","x":false}}}`)
	_, err := parseKlineMessage(msg)
	assert.Error(t, err)
}

func TestClient_RejectsTooManyStreams(t *testing.T) {
	keys := make([]candle.Key, maxStreams+1)
	for i := range keys {
		keys[i] = candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1m}
	}
	_, err := New("ws://example.invalid", keys, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_Run_DeliversUpdateAndStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		// Drain the subscription request.
		_, _, _ = conn.ReadMessage()
		msg := []byte(`{"data":{"e":"kline","k":{"t":0,"T":59999,"s":"BTCUSDT","i":"1m","o":"1","h":"2","l":"0.5","c":"1.5","v":"10","x":true}}}`)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var mu sync.Mutex
	var got []aggregator.KlineUpdate
	handler := func(ctx context.Context, u aggregator.KlineUpdate) error {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
		return nil
	}

	c, err := New(wsURL, []candle.Key{{Symbol: "BTCUSDT", Timeframe: candle.TF1m}}, handler, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = c.Run(ctx)
	assert.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
}
