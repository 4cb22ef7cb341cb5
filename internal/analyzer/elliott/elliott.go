// Package elliott implements the pivot-extraction and impulse/correction
// validation detector described in spec.md §4.5.
package elliott

import (
	"fmt"
	"math"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
)

const pivotHalfWidth = 5

// PivotKind distinguishes a local high from a local low.
type PivotKind string

const (
	PivotHigh PivotKind = "HIGH"
	PivotLow  PivotKind = "LOW"
)

// Pivot is a local extremum used to assemble impulse/correction waves.
type Pivot struct {
	Index int
	Kind  PivotKind
	Price float64
}

// Analyzer implements analyzer.Analyzer for Elliott wave pivot/impulse
// validation.
type Analyzer struct {
	HalfWidth int
}

// New returns an Elliott analyzer with the spec default pivot half-width.
func New() *Analyzer {
	return &Analyzer{HalfWidth: pivotHalfWidth}
}

func (a *Analyzer) Name() string { return "elliott" }

func (a *Analyzer) Analyze(key candle.Key, window *candle.Window) analyzer.Result {
	candles := window.Candles()
	halfWidth := a.HalfWidth
	if halfWidth <= 0 {
		halfWidth = pivotHalfWidth
	}

	pivots := extractPivots(candles, halfWidth)
	alternating := alternatingTail(pivots)
	if len(alternating) >= 5 {
		last5 := alternating[len(alternating)-5:]
		if res, ok := validateImpulse(last5); ok {
			return res
		}
	}
	if len(alternating) >= 3 {
		last3 := alternating[len(alternating)-3:]
		if res, ok := validateABC(last3); ok {
			return res
		}
	}
	return analyzer.NoneResult(fmt.Sprintf("%d alternating pivots, no validated pattern", len(alternating)))
}

// extractPivots finds local extrema: a pivot high at i if high[i] equals
// the max of the window [i-w, i+w], pivot low symmetrically.
func extractPivots(candles []candle.Candle, w int) []Pivot {
	var pivots []Pivot
	n := len(candles)
	for i := w; i < n-w; i++ {
		isHigh, isLow := true, true
		h, l := candles[i].High, candles[i].Low
		for j := i - w; j <= i+w; j++ {
			if j == i {
				continue
			}
			if candles[j].High > h {
				isHigh = false
			}
			if candles[j].Low < l {
				isLow = false
			}
		}
		if isHigh {
			pivots = append(pivots, Pivot{Index: i, Kind: PivotHigh, Price: h})
		} else if isLow {
			pivots = append(pivots, Pivot{Index: i, Kind: PivotLow, Price: l})
		}
	}
	return pivots
}

// alternatingTail returns the longest suffix of pivots whose Kind strictly
// alternates (no two consecutive highs or consecutive lows).
func alternatingTail(pivots []Pivot) []Pivot {
	if len(pivots) == 0 {
		return nil
	}
	start := len(pivots) - 1
	for start > 0 && pivots[start].Kind != pivots[start-1].Kind {
		start--
	}
	return pivots[start:]
}

// validateImpulse checks the last five alternating pivots P1..P5 for a
// valid up- or down-impulse per spec.md §4.5.2, and emits the
// mean-reversion direction on a validated completed impulse (spec.md §9
// Open Question resolution: emit against the completed impulse).
func validateImpulse(p []Pivot) (analyzer.Result, bool) {
	p1, p2, p3, p4, p5 := p[0], p[1], p[2], p[3], p[4]

	upImpulse := p1.Kind == PivotLow && p2.Kind == PivotHigh && p3.Kind == PivotLow &&
		p4.Kind == PivotHigh && p5.Kind == PivotLow
	downImpulse := p1.Kind == PivotHigh && p2.Kind == PivotLow && p3.Kind == PivotHigh &&
		p4.Kind == PivotLow && p5.Kind == PivotHigh

	if !upImpulse && !downImpulse {
		return analyzer.Result{}, false
	}

	wave1 := math.Abs(p2.Price - p1.Price)
	wave2 := math.Abs(p3.Price - p2.Price)
	wave3 := math.Abs(p4.Price - p3.Price)
	wave4 := math.Abs(p5.Price - p4.Price)
	wave5 := wave4 // P5 is the impulse terminus; "wave 5" length is P4->P5

	if wave1 == 0 {
		return analyzer.Result{}, false
	}
	if wave2 > wave1 {
		return analyzer.Result{}, false // wave 2 retrace <= 100% of wave 1
	}
	if wave3 <= wave1 && wave3 <= wave5 {
		return analyzer.Result{}, false // wave 3 must not be the shortest of {1,3,5}
	}

	// Wave 4 (ending at P5) must not overlap wave 1's price territory,
	// i.e. must not retrace back past the end of wave 1 (P2).
	if upImpulse {
		if p5.Price <= p2.Price {
			return analyzer.Result{}, false
		}
	} else {
		if p5.Price >= p2.Price {
			return analyzer.Result{}, false
		}
	}

	fib := fibonacciFit(wave2/wave1, 0.618) * 0.5
	fib += fibonacciFit(wave3/wave1, 1.618) * 0.5
	conf := analyzer.Clamp(fib, 0.0, 1.0)

	if upImpulse {
		// Completed bullish impulse -> mean-reversion SHORT.
		return analyzer.Result{
			Signal:     analyzer.Short,
			Confidence: conf,
			Detail:     "completed up-impulse, mean-reversion short",
		}, true
	}
	// Completed bearish impulse -> mean-reversion LONG.
	return analyzer.Result{
		Signal:     analyzer.Long,
		Confidence: conf,
		Detail:     "completed down-impulse, mean-reversion long",
	}, true
}

// validateABC checks the last three alternating pivots for an ABC
// correction per spec.md §4.5.4 and emits the trend-continuation
// direction on a fit.
func validateABC(p []Pivot) (analyzer.Result, bool) {
	a, b, c := p[0], p[1], p[2]
	prevTrend := math.Abs(b.Price - a.Price)
	if prevTrend == 0 {
		return analyzer.Result{}, false
	}
	abMove := math.Abs(b.Price - a.Price)
	bcMove := math.Abs(c.Price - b.Price)

	abRatio := abMove / prevTrend
	bcRatio := bcMove / math.Max(abMove, 1e-9)

	if abRatio < 0.5 || abRatio > 1.0 {
		return analyzer.Result{}, false
	}
	if bcRatio < 1.0 || bcRatio > 1.618 {
		return analyzer.Result{}, false
	}

	var dir analyzer.Direction
	if a.Kind == PivotLow && b.Kind == PivotHigh && c.Kind == PivotLow {
		// A-B up, B-C down: prior trend (pre-A) assumed down -> continuation short
		dir = analyzer.Short
	} else if a.Kind == PivotHigh && b.Kind == PivotLow && c.Kind == PivotHigh {
		dir = analyzer.Long
	} else {
		return analyzer.Result{}, false
	}

	fib := fibonacciFit(bcRatio, 1.0)
	conf := analyzer.Clamp(fib, 0.0, 1.0)
	return analyzer.Result{
		Signal:     dir,
		Confidence: conf,
		Detail:     "ABC correction, trend continuation",
	}, true
}

// fibonacciFit scores how close ratio is to target, on a 0..1 scale that
// decays linearly to 0 at +/-50% deviation from target.
func fibonacciFit(ratio, target float64) float64 {
	if target == 0 {
		return 0
	}
	dev := math.Abs(ratio-target) / target
	return analyzer.Clamp(1.0-dev*2.0, 0.0, 1.0)
}
