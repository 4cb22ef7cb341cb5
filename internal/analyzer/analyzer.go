// Package analyzer defines the shared contract every pattern/indicator
// analyzer implements: a pure function over a read-only candle window
// that produces a directional AnalyzerResult. No inheritance hierarchy is
// needed here — a single small interface suffices, per spec.md §9.
package analyzer

import "github.com/sawpanic/signalpipe/internal/candle"

// Direction is the directional call an analyzer makes.
type Direction string

const (
	None  Direction = "NONE"
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Result is the value every analyzer produces per close event.
// NONE always carries Confidence == 0.
type Result struct {
	Signal     Direction
	Confidence float64
	Detail     string
}

// NoneResult is the canonical NONE result.
func NoneResult(detail string) Result {
	return Result{Signal: None, Confidence: 0, Detail: detail}
}

// Analyzer is implemented by every pattern/indicator detector in the
// analyzer set. Analyze must be a pure function of window's contents: two
// calls with equal window inputs must return equal Results (spec.md §8
// property 9, "analyzer purity").
type Analyzer interface {
	Name() string
	Analyze(key candle.Key, window *candle.Window) Result
}

// Clamp confines v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
