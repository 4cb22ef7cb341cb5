package elliott

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
)

func mkCandle(openTime int64, o, h, l, c float64) candle.Candle {
	return candle.Candle{
		Symbol: "BTCUSDT", Timeframe: candle.TF1h,
		OpenTime: openTime, CloseTime: openTime + int64(candle.TF1h.Duration()/1e6) - 1,
		Open: o, High: h, Low: l, Close: c, Volume: 10,
	}
}

// buildZigzag constructs a candle series whose highs/lows trace the given
// pivot price sequence. Each point is preceded by pivotHalfWidth flat
// candles, and the series ends with pivotHalfWidth flats back at the
// previous point's level, so extractPivots can find every point cleanly.
func buildZigzag(points []float64) []candle.Candle {
	var out []candle.Candle
	step := int64(candle.TF1h.Duration() / 1e6)
	t := int64(0)
	for _, p := range points {
		// Lead-in flats strictly inside the pivot (so neighbours don't tie it).
		for i := 0; i < pivotHalfWidth; i++ {
			out = append(out, mkCandle(t, p*0.999, p*0.9995, p*0.998, p*0.999))
			t += step
		}
		out = append(out, mkCandle(t, p, p*1.001, p*0.997, p))
		t += step
	}
	tail := points[len(points)-1]
	if len(points) > 1 {
		tail = points[len(points)-2]
	}
	for i := 0; i < pivotHalfWidth; i++ {
		out = append(out, mkCandle(t, tail*0.999, tail*0.9995, tail*0.998, tail*0.999))
		t += step
	}
	return out
}

func TestElliott_NoPivotsIsNone(t *testing.T) {
	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h}
	w := candle.NewWindow(key, 500)
	for i := 0; i < 20; i++ {
		w.Append(mkCandle(int64(i), 100, 100.1, 99.9, 100))
	}
	res := New().Analyze(key, w)
	assert.Equal(t, analyzer.None, res.Signal)
}

func TestElliott_Purity(t *testing.T) {
	points := []float64{100, 120, 108, 135, 115}
	candles := buildZigzag(points)
	key := candle.Key{Symbol: "BTCUSDT", Timeframe: candle.TF1h}
	w1 := candle.NewWindow(key, 500)
	w2 := candle.NewWindow(key, 500)
	for _, c := range candles {
		w1.Append(c)
		w2.Append(c)
	}
	a := New()
	assert.Equal(t, a.Analyze(key, w1), a.Analyze(key, w2))
}

func TestExtractPivots_AlternatesOnZigzag(t *testing.T) {
	points := []float64{100, 120, 108, 135, 115}
	candles := buildZigzag(points)
	pivots := extractPivots(candles, pivotHalfWidth)
	if len(pivots) < 2 {
		t.Fatalf("expected at least 2 pivots, got %d", len(pivots))
	}
	for i := 1; i < len(pivots); i++ {
		assert.NotEqual(t, pivots[i-1].Kind, pivots[i].Kind, "pivots must alternate")
	}
}

func TestFibonacciFit_ExactTargetIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, fibonacciFit(0.618, 0.618), 1e-9)
}

func TestFibonacciFit_FarFromTargetIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, fibonacciFit(10.0, 0.618), 1e-9)
}
