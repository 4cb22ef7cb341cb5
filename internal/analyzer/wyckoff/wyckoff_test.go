package wyckoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
)

func buildWindow(t *testing.T, candles []candle.Candle) *candle.Window {
	t.Helper()
	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h}
	w := candle.NewWindow(key, 500)
	for _, c := range candles {
		w.Append(c)
	}
	return w
}

func flatCandle(openTime int64, close, vol float64) candle.Candle {
	return candle.Candle{
		Symbol: "BTCUSDT", Timeframe: candle.TF1h,
		OpenTime: openTime, CloseTime: openTime + int64(candle.TF1h.Duration()/1e6) - 1,
		Open: close, High: close + 1, Low: close - 1, Close: close, Volume: vol,
	}
}

func TestWyckoff_InsufficientData(t *testing.T) {
	w := buildWindow(t, []candle.Candle{flatCandle(0, 100, 10)})
	res := New().Analyze(w.Key, w)
	assert.Equal(t, analyzer.None, res.Signal)
}

func TestWyckoff_SpringDetected(t *testing.T) {
	var candles []candle.Candle
	openTime := int64(0)
	step := int64(candle.TF1h.Duration() / 1e6)
	// 120 sideways candles around 100 with rising volume -> accumulation
	for i := 0; i < 120; i++ {
		candles = append(candles, flatCandle(openTime, 100, 10+float64(i)*0.2))
		openTime += step
	}
	// Final candle: low pierces below range low (99) but closes back above it,
	// on a volume spike.
	last := candle.Candle{
		Symbol: "BTCUSDT", Timeframe: candle.TF1h,
		OpenTime: openTime, CloseTime: openTime + step - 1,
		Open: 99.5, High: 100.2, Low: 96.0, Close: 99.8, Volume: 200,
	}
	candles = append(candles, last)

	w := buildWindow(t, candles)
	res := New().Analyze(w.Key, w)
	require.Equal(t, analyzer.Long, res.Signal)
	assert.GreaterOrEqual(t, res.Confidence, 0.35)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestWyckoff_Purity(t *testing.T) {
	var candles []candle.Candle
	openTime := int64(0)
	step := int64(candle.TF1h.Duration() / 1e6)
	for i := 0; i < 130; i++ {
		candles = append(candles, flatCandle(openTime, 100+float64(i%5), 20))
		openTime += step
	}
	w1 := buildWindow(t, candles)
	w2 := buildWindow(t, candles)
	a := New()
	assert.Equal(t, a.Analyze(w1.Key, w1), a.Analyze(w2.Key, w2))
}
