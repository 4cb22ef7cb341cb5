// Package macdanalyzer wraps indicators.MACD into the crossover
// directional call described in spec.md §4.6.
package macdanalyzer

import (
	"fmt"
	"math"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/indicators"
)

const (
	fastPeriod   = 12
	slowPeriod   = 26
	signalPeriod = 9
)

// Analyzer implements analyzer.Analyzer for the MACD histogram crossover rule.
type Analyzer struct{}

func New() *Analyzer { return &Analyzer{} }

func (a *Analyzer) Name() string { return "macd" }

func (a *Analyzer) Analyze(key candle.Key, window *candle.Window) analyzer.Result {
	closes := window.Closes()
	hist := indicators.MACDHistogramSeries(closes, fastPeriod, slowPeriod, signalPeriod)
	if len(hist) < 2 {
		return analyzer.NoneResult("insufficient data for MACD")
	}
	prevHist, currHist := hist[len(hist)-2], hist[len(hist)-1]

	res := indicators.MACD(closes, fastPeriod, slowPeriod, signalPeriod)
	if !res.Valid {
		return analyzer.NoneResult("insufficient data for MACD")
	}

	switch {
	case prevHist <= 0 && currHist > 0:
		conf := confidence(currHist, res.MACD)
		return analyzer.Result{Signal: analyzer.Long, Confidence: conf,
			Detail: fmt.Sprintf("macd bullish crossover hist=%.6f", currHist)}
	case prevHist >= 0 && currHist < 0:
		conf := confidence(currHist, res.MACD)
		return analyzer.Result{Signal: analyzer.Short, Confidence: conf,
			Detail: fmt.Sprintf("macd bearish crossover hist=%.6f", currHist)}
	default:
		return analyzer.NoneResult(fmt.Sprintf("no macd crossover hist=%.6f", currHist))
	}
}

func confidence(currHist, currMACD float64) float64 {
	bonus := 0.1
	if currMACD > 0 {
		bonus = 0.2
	}
	conf := 0.5 + math.Min(math.Abs(currHist)*100.0, 0.4) + bonus
	return analyzer.Clamp(conf, 0, 1)
}
