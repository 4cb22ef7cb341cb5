// Package rsianalyzer wraps indicators.RSI into the oversold/overbought
// directional call described in spec.md §4.6.
package rsianalyzer

import (
	"fmt"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/indicators"
)

const (
	period    = 14
	oversold  = 30.0
	overbought = 70.0
)

// Analyzer implements analyzer.Analyzer for the RSI oversold/overbought rule.
type Analyzer struct{}

func New() *Analyzer { return &Analyzer{} }

func (a *Analyzer) Name() string { return "rsi" }

func (a *Analyzer) Analyze(key candle.Key, window *candle.Window) analyzer.Result {
	closes := window.Closes()
	rsi := indicators.RSI(closes, period)
	if rsi != rsi { // NaN guard without importing math
		return analyzer.NoneResult("insufficient data for RSI")
	}

	switch {
	case rsi < oversold:
		conf := analyzer.Clamp(0.5+(oversold-rsi)/30.0, 0, 1)
		return analyzer.Result{Signal: analyzer.Long, Confidence: conf, Detail: fmt.Sprintf("rsi=%.2f oversold", rsi)}
	case rsi > overbought:
		conf := analyzer.Clamp(0.5+(rsi-overbought)/30.0, 0, 1)
		return analyzer.Result{Signal: analyzer.Short, Confidence: conf, Detail: fmt.Sprintf("rsi=%.2f overbought", rsi)}
	default:
		return analyzer.NoneResult(fmt.Sprintf("rsi=%.2f neutral", rsi))
	}
}
