package candle

import "fmt"

// DefaultWindowSize is the default number of candles retained per key.
const DefaultWindowSize = 500

// MinUsableWindow is the minimum window length most analyzers require.
const MinUsableWindow = 100

// Window is the rolling, ordered sequence of candles for one (symbol, tf)
// key, sorted by OpenTime ascending and bounded to the most recent Size
// entries. A Window is owned exclusively by the aggregator; analyzers only
// ever see a read-only snapshot (a Clone or the slice view via Candles).
type Window struct {
	Key  Key
	Size int

	candles []Candle
}

// NewWindow creates an empty window for key, bounded to size candles
// (size <= 0 falls back to DefaultWindowSize).
func NewWindow(key Key, size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{Key: key, Size: size, candles: make([]Candle, 0, size)}
}

// Len returns the number of candles currently held.
func (w *Window) Len() int {
	return len(w.candles)
}

// Tail returns the most recent candle and true, or the zero Candle and
// false if the window is empty.
func (w *Window) Tail() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Append commits c to the end of the window, evicting the oldest entry if
// the window would exceed its configured size. Append does not validate
// ordering; callers (the aggregator) must enforce strictly increasing
// OpenTime themselves per spec.md §3's Window invariant.
func (w *Window) Append(c Candle) {
	w.candles = append(w.candles, c)
	if len(w.candles) > w.Size {
		w.candles = w.candles[len(w.candles)-w.Size:]
	}
}

// Candles returns a read-only view of the held candles, oldest first.
// Callers must not mutate the returned slice's backing array; Clone
// returns an independent copy when that's required.
func (w *Window) Candles() []Candle {
	return w.candles
}

// Clone returns an independent copy of the window suitable for handing to
// analyzers that run concurrently with further aggregator writes.
func (w *Window) Clone() *Window {
	cp := make([]Candle, len(w.candles))
	copy(cp, w.candles)
	return &Window{Key: w.Key, Size: w.Size, candles: cp}
}

// Closes returns the Close prices of every held candle, oldest first.
func (w *Window) Closes() []float64 {
	out := make([]float64, len(w.candles))
	for i, c := range w.candles {
		out[i] = c.Close
	}
	return out
}

// Validate checks the Window invariant: strictly increasing OpenTime with
// no duplicate or out-of-order entries.
func (w *Window) Validate() error {
	for i := 1; i < len(w.candles); i++ {
		if w.candles[i].OpenTime <= w.candles[i-1].OpenTime {
			return fmt.Errorf("window %s: open_time not strictly increasing at index %d (%d <= %d)",
				w.Key, i, w.candles[i].OpenTime, w.candles[i-1].OpenTime)
		}
	}
	return nil
}
