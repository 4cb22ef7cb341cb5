package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA_InsufficientData(t *testing.T) {
	assert.True(t, math.IsNaN(EMA([]float64{1, 2, 3}, 10)))
}

func TestEMA_SeedIsSimpleAverage(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	v := EMA(closes, 5)
	assert.InDelta(t, 3.0, v, 1e-9)
}

func TestEMA_Monotonic(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	v := EMA(closes, 10)
	require.False(t, math.IsNaN(v))
	assert.Greater(t, v, 10.0)
}

func TestRSI_AllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	v := RSI(closes, 14)
	assert.InDelta(t, 100.0, v, 1e-9)
}

func TestRSI_AllLosses(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(20 - i)
	}
	v := RSI(closes, 14)
	assert.InDelta(t, 0.0, v, 1e-9)
}

func TestRSI_InsufficientData(t *testing.T) {
	assert.True(t, math.IsNaN(RSI([]float64{1, 2}, 14)))
}

func TestRSI_FlatSeriesIsNeutral(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 10.0
	}
	assert.InDelta(t, 50.0, RSI(closes, 14), 1e-9)
}

func TestMACD_InsufficientData(t *testing.T) {
	r := MACD([]float64{1, 2, 3}, 12, 26, 9)
	assert.False(t, r.Valid)
}

func TestMACD_UptrendHasPositiveHistogramEventually(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100.0 + float64(i)*0.5
	}
	r := MACD(closes, 12, 26, 9)
	require.True(t, r.Valid)
	assert.Greater(t, r.MACD, 0.0)
}

func TestMACDHistogramSeries_CrossoverDetectable(t *testing.T) {
	closes := make([]float64, 60)
	for i := 0; i < 40; i++ {
		closes[i] = 100.0 - float64(i)*0.3
	}
	for i := 40; i < 60; i++ {
		closes[i] = closes[39] + float64(i-39)*2.0
	}
	hist := MACDHistogramSeries(closes, 12, 26, 9)
	require.NotEmpty(t, hist)
	// Histogram should eventually turn positive after the sharp reversal.
	assert.Greater(t, hist[len(hist)-1], hist[0])
}

func TestATR_InsufficientData(t *testing.T) {
	assert.True(t, math.IsNaN(ATR([]PriceBar{{High: 1, Low: 0, Close: 0.5}}, 14)))
}

func TestATR_FlatBarsIsZero(t *testing.T) {
	bars := make([]PriceBar, 20)
	for i := range bars {
		bars[i] = PriceBar{High: 10, Low: 10, Close: 10}
	}
	assert.InDelta(t, 0.0, ATR(bars, 14), 1e-9)
}

func TestATR_Positive(t *testing.T) {
	bars := make([]PriceBar, 20)
	for i := range bars {
		bars[i] = PriceBar{High: 10 + float64(i%3), Low: 9, Close: 9.5}
	}
	v := ATR(bars, 14)
	require.False(t, math.IsNaN(v))
	assert.Greater(t, v, 0.0)
}

func TestSMA(t *testing.T) {
	assert.InDelta(t, 2.0, SMA([]float64{1, 2, 3}, 3), 1e-9)
	assert.True(t, math.IsNaN(SMA([]float64{1}, 3)))
}
