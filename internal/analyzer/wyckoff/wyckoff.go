// Package wyckoff implements the Wyckoff phase/spring/upthrust detector
// described in spec.md §4.4.
package wyckoff

import (
	"fmt"
	"math"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/indicators"
)

// Phase classifies where price sits within its trailing range.
type Phase string

const (
	PhaseAccumulation Phase = "ACCUMULATION"
	PhaseDistribution Phase = "DISTRIBUTION"
	PhaseMarkup       Phase = "MARKUP"
	PhaseMarkdown     Phase = "MARKDOWN"
)

const (
	defaultMinCandles  = 100
	defaultRangeLen    = 50
	volumeSMAPeriod    = 20
	volumeSpringFactor = 1.5
	minConfidence      = 0.35
)

// Analyzer implements analyzer.Analyzer for Wyckoff spring/upthrust
// detection.
type Analyzer struct {
	MinCandles int
	RangeLen   int
}

// New returns a Wyckoff analyzer with spec.md default parameters.
func New() *Analyzer {
	return &Analyzer{MinCandles: defaultMinCandles, RangeLen: defaultRangeLen}
}

func (a *Analyzer) Name() string { return "wyckoff" }

// Analyze classifies the trailing range's phase and looks for a spring
// (ACCUMULATION, failed breakdown) or upthrust (DISTRIBUTION, failed
// breakout) on the most recent closed candle.
func (a *Analyzer) Analyze(key candle.Key, window *candle.Window) analyzer.Result {
	candles := window.Candles()
	minCandles := a.MinCandles
	if minCandles <= 0 {
		minCandles = defaultMinCandles
	}
	rangeLen := a.RangeLen
	if rangeLen <= 0 {
		rangeLen = defaultRangeLen
	}
	if len(candles) < minCandles || len(candles) < rangeLen+volumeSMAPeriod {
		return analyzer.NoneResult("insufficient candles for wyckoff analysis")
	}

	// The range is the rangeLen candles before the latest one, so the latest
	// candle can pierce it.
	rangeCandles := candles[len(candles)-1-rangeLen : len(candles)-1]
	rangeHigh, rangeLow := rangeCandles[0].High, rangeCandles[0].Low
	for _, c := range rangeCandles[1:] {
		if c.High > rangeHigh {
			rangeHigh = c.High
		}
		if c.Low < rangeLow {
			rangeLow = c.Low
		}
	}
	rangeWidth := rangeHigh - rangeLow
	if rangeWidth <= 0 {
		return analyzer.NoneResult("degenerate range width")
	}

	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	volSMA := indicators.SMA(volumes, volumeSMAPeriod)
	if math.IsNaN(volSMA) || volSMA <= 0 {
		return analyzer.NoneResult("insufficient volume history")
	}

	phase := classifyPhase(rangeCandles, volumes)
	last := candles[len(candles)-1]
	volMultiple := last.Volume / volSMA

	switch phase {
	case PhaseAccumulation:
		if last.Low < rangeLow && last.Close >= rangeLow && volMultiple > volumeSpringFactor {
			penetration := (rangeLow - last.Low) / rangeWidth
			conf := analyzer.Clamp(penetration*2+(volMultiple-1)*0.3, minConfidence, 1.0)
			if penetration*2+(volMultiple-1)*0.3 < minConfidence {
				return analyzer.NoneResult("spring confidence below floor")
			}
			return analyzer.Result{
				Signal:     analyzer.Long,
				Confidence: conf,
				Detail:     fmt.Sprintf("spring: penetration=%.4f volMultiple=%.2f", penetration, volMultiple),
			}
		}
	case PhaseDistribution:
		if last.High > rangeHigh && last.Close <= rangeHigh && volMultiple > volumeSpringFactor {
			penetration := (last.High - rangeHigh) / rangeWidth
			conf := analyzer.Clamp(penetration*2+(volMultiple-1)*0.3, minConfidence, 1.0)
			if penetration*2+(volMultiple-1)*0.3 < minConfidence {
				return analyzer.NoneResult("upthrust confidence below floor")
			}
			return analyzer.Result{
				Signal:     analyzer.Short,
				Confidence: conf,
				Detail:     fmt.Sprintf("upthrust: penetration=%.4f volMultiple=%.2f", penetration, volMultiple),
			}
		}
	}

	return analyzer.NoneResult(fmt.Sprintf("phase=%s no spring/upthrust", phase))
}

// classifyPhase classifies the trailing range by price's position within
// the range and the slope of a volume moving average, per spec.md §4.4.2:
// sideways with rising volume -> ACCUMULATION; sideways with waning volume
// after a rally -> DISTRIBUTION; otherwise MARKUP/MARKDOWN.
func classifyPhase(rangeCandles []candle.Candle, allVolumes []float64) Phase {
	first, last := rangeCandles[0], rangeCandles[len(rangeCandles)-1]
	rangeHigh, rangeLow := first.High, first.Low
	for _, c := range rangeCandles {
		if c.High > rangeHigh {
			rangeHigh = c.High
		}
		if c.Low < rangeLow {
			rangeLow = c.Low
		}
	}
	width := rangeHigh - rangeLow
	if width <= 0 {
		return PhaseMarkup
	}

	position := (last.Close - rangeLow) / width
	netMove := (last.Close - first.Close) / first.Close
	sideways := math.Abs(netMove) < 0.06 // within +/-6% over the range is "sideways"

	half := len(allVolumes) / 2
	earlyAvg := indicators.SMA(allVolumes[:half], half)
	lateAvg := indicators.SMA(allVolumes[half:], len(allVolumes)-half)
	volumeRising := !math.IsNaN(earlyAvg) && !math.IsNaN(lateAvg) && lateAvg > earlyAvg

	switch {
	case sideways && volumeRising && position < 0.6:
		return PhaseAccumulation
	case sideways && !volumeRising && position > 0.4 && netMove >= 0:
		return PhaseDistribution
	case netMove > 0:
		return PhaseMarkup
	default:
		return PhaseMarkdown
	}
}
