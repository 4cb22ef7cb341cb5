// Package indicators implements the pure, side-effect-free technical
// indicators the analyzer set is built on: EMA, RSI, MACD and ATR.
// Every function here is deterministic over its input slice; insufficient
// data returns math.NaN() rather than panicking, per spec.md §4.3.
package indicators

import "math"

// EMA computes the exponential moving average of closes with the given
// period, seeded with the simple average of the first `period` values.
// Returns NaN if there isn't enough data.
func EMA(closes []float64, period int) float64 {
	series := EMASeries(closes, period)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// EMASeries returns the full EMA series aligned to closes[period-1:], i.e.
// series[i] is the EMA value as of closes[period-1+i]. Returns nil if
// there isn't enough data.
func EMASeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	seed := 0.0
	for _, c := range closes[:period] {
		seed += c
	}
	seed /= float64(period)

	alpha := 2.0 / float64(period+1)
	series := make([]float64, 0, len(closes)-period+1)
	series = append(series, seed)
	prev := seed
	for _, c := range closes[period:] {
		prev = (c-prev)*alpha + prev
		series = append(series, prev)
	}
	return series
}

// RSI computes the 14-period (by default) RSI using Wilder smoothing of
// average gain/loss. Returns NaN if there isn't enough data.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return math.NaN()
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// MACDResult holds the MACD line, its signal line and the histogram
// (macd - signal) for the most recent close.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	Valid     bool
}

// MACD computes MACD(fast, slow, signalPeriod) = EMA(fast) - EMA(slow),
// with the signal line being an EMA(signalPeriod) of the MACD series.
func MACD(closes []float64, fast, slow, signalPeriod int) MACDResult {
	if len(closes) < slow+signalPeriod {
		return MACDResult{Valid: false}
	}

	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)

	// Align series: fastSeries starts at index fast-1, slowSeries at slow-1.
	offset := (slow - 1) - (fast - 1)
	if offset < 0 || offset >= len(fastSeries) {
		return MACDResult{Valid: false}
	}
	fastAligned := fastSeries[offset:]

	n := len(slowSeries)
	if len(fastAligned) < n {
		n = len(fastAligned)
	}
	macdSeries := make([]float64, n)
	for i := 0; i < n; i++ {
		macdSeries[i] = fastAligned[i] - slowSeries[i]
	}

	if len(macdSeries) < signalPeriod {
		return MACDResult{Valid: false}
	}
	signalSeries := EMASeries(macdSeries, signalPeriod)
	if len(signalSeries) == 0 {
		return MACDResult{Valid: false}
	}

	lastMACD := macdSeries[len(macdSeries)-1]
	lastSignal := signalSeries[len(signalSeries)-1]
	return MACDResult{
		MACD:      lastMACD,
		Signal:    lastSignal,
		Histogram: lastMACD - lastSignal,
		Valid:     true,
	}
}

// MACDHistogramSeries returns the histogram series aligned to the tail of
// closes, used by the MACD analyzer to detect a crossover on the last two
// points. Returns nil if there isn't enough data for at least 2 points.
func MACDHistogramSeries(closes []float64, fast, slow, signalPeriod int) []float64 {
	if len(closes) < slow+signalPeriod {
		return nil
	}
	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)
	offset := (slow - 1) - (fast - 1)
	if offset < 0 || offset >= len(fastSeries) {
		return nil
	}
	fastAligned := fastSeries[offset:]

	n := len(slowSeries)
	if len(fastAligned) < n {
		n = len(fastAligned)
	}
	macdSeries := make([]float64, n)
	for i := 0; i < n; i++ {
		macdSeries[i] = fastAligned[i] - slowSeries[i]
	}
	if len(macdSeries) < signalPeriod {
		return nil
	}
	signalSeries := EMASeries(macdSeries, signalPeriod)
	if len(signalSeries) < 2 {
		return nil
	}
	// macdSeries is longer than signalSeries by signalPeriod-1; align tails.
	macdTail := macdSeries[len(macdSeries)-len(signalSeries):]
	hist := make([]float64, len(signalSeries))
	for i := range hist {
		hist[i] = macdTail[i] - signalSeries[i]
	}
	return hist
}

// PriceBar is the minimal OHLC shape ATR needs.
type PriceBar struct {
	High  float64
	Low   float64
	Close float64
}

// ATR computes the Wilder-smoothed Average True Range over period bars.
// Returns NaN if there isn't enough data.
func ATR(bars []PriceBar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN()
	}

	trueRanges := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		trueRanges[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr
}

// SMA computes the simple moving average of the last `period` values.
// Returns NaN if there isn't enough data.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	tail := values[len(values)-period:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(period)
}
