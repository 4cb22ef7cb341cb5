// Package fuser combines the four analyzer outputs for a closed candle
// into a single tiered trade Signal, applying cooldown and per-symbol
// conflict-prevention state before emitting (spec.md §4.7).
package fuser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/indicators"
)

// Tier identifies which rule in the tiered decision table produced a
// Signal. Exactly one of these is recorded per emission (spec.md §8
// property 7, "tier exclusivity").
type Tier string

const (
	Tier1   Tier = "1"
	Tier2   Tier = "2"
	Tier3   Tier = "3"
	Tier3_5 Tier = "3.5"
	Tier4   Tier = "4"
)

// Signal is the emitted artifact.
type Signal struct {
	ID           string
	Symbol       string
	Timeframe    candle.Timeframe
	Direction    analyzer.Direction
	EntryPrice   float64
	StopLoss     float64
	TakeProfit1  float64
	TakeProfit2  float64
	TakeProfit3  float64
	Confidence   float64
	Tier         Tier
	Reason       string
	SubResults   map[string]analyzer.Result
	EmittedAt    time.Time
}

// RejectReason enumerates why a candidate was not emitted, for metrics.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectNoTierMatch      RejectReason = "no-tier-match"
	RejectLowConfidence    RejectReason = "low-confidence"
	RejectCooldown         RejectReason = "cooldown"
	RejectConflict         RejectReason = "conflict"
	RejectDegenerateLevels RejectReason = "degenerate-levels"
)

// Config tunes the fuser's thresholds, independently of any one event.
type Config struct {
	MinConfidence         float64
	CooldownSeconds       int64
	PreventConflicts      bool
	ConflictWindowSeconds int64
	ATRStopMult           float64
	ATRTakeProfitMult     float64
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:         0.55,
		CooldownSeconds:       300,
		PreventConflicts:      true,
		ConflictWindowSeconds: 3600,
		ATRStopMult:           2.0,
		ATRTakeProfitMult:     3.0,
	}
}

// Counters tracks emission/reject totals for status and metrics reporting.
type Counters struct {
	Emitted int64
	Rejects map[RejectReason]int64
}

// directionStamp records the last direction seen for a symbol, for
// conflict prevention.
type directionStamp struct {
	direction analyzer.Direction
	at        time.Time
}

// State is the fuser's process-local mutable state (spec.md §3
// "FuserState"). It is written only by OnClose; external readers use
// Snapshot.
type State struct {
	mu                   sync.Mutex
	lastSignalByKey      map[candle.Key]time.Time
	lastDirectionBySymbol map[string]directionStamp
	counters             Counters
}

func NewState() *State {
	return &State{
		lastSignalByKey:       make(map[candle.Key]time.Time),
		lastDirectionBySymbol: make(map[string]directionStamp),
		counters:              Counters{Rejects: make(map[RejectReason]int64)},
	}
}

// Snapshot returns an independent copy of the counters, safe to read
// concurrently with further Fuse calls.
func (s *State) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Counters{Emitted: s.counters.Emitted, Rejects: make(map[RejectReason]int64, len(s.counters.Rejects))}
	for k, v := range s.counters.Rejects {
		cp.Rejects[k] = v
	}
	return cp
}

// PersistFunc writes an emitted signal to durable storage.
type PersistFunc func(ctx context.Context, sig Signal) error

// NotifyFunc hands an emitted signal to the outbound notifier. Errors are
// logged, never fatal (spec.md §7, "notifier unreachable: non-fatal").
type NotifyFunc func(ctx context.Context, sig Signal) error

// Fuser owns one State and applies the tiered combination rule to every
// close event it is given.
type Fuser struct {
	cfg     Config
	state   *State
	persist PersistFunc
	notify  NotifyFunc
	log     zerolog.Logger

	analyzers map[string]analyzer.Analyzer
}

// AnalyzerSet names the four well-known analyzer slots the tiered rule
// reasons about explicitly; other analyzers may be registered too but
// only these four participate in tiering.
type AnalyzerSet struct {
	Wyckoff analyzer.Analyzer
	Elliott analyzer.Analyzer
	RSI     analyzer.Analyzer
	MACD    analyzer.Analyzer
}

func New(cfg Config, set AnalyzerSet, persist PersistFunc, notify NotifyFunc, log zerolog.Logger) *Fuser {
	return &Fuser{
		cfg:     cfg,
		state:   NewState(),
		persist: persist,
		notify:  notify,
		log:     log.With().Str("component", "fuser").Logger(),
		analyzers: map[string]analyzer.Analyzer{
			"wyckoff": set.Wyckoff,
			"elliott": set.Elliott,
			"rsi":     set.RSI,
			"macd":    set.MACD,
		},
	}
}

// State exposes the fuser's state for direct snapshotting by status
// reporters.
func (f *Fuser) State() *State { return f.state }

// SetAnalyzers swaps the registered analyzer set in place, keeping the
// existing State (cooldown/conflict history). Used by tests that need to
// drive the same Fuser with different analyzer outputs across events;
// production code sets the set once at construction.
func (f *Fuser) SetAnalyzers(set AnalyzerSet) {
	f.analyzers = map[string]analyzer.Analyzer{
		"wyckoff": set.Wyckoff,
		"elliott": set.Elliott,
		"rsi":     set.RSI,
		"macd":    set.MACD,
	}
}

// candidate is the pre-threshold result of applying the tiered rule.
type candidate struct {
	direction analyzer.Direction
	tier      Tier
	confidence float64
	reason    string
}

// OnClose runs every registered analyzer over window, fuses their
// results, and emits a Signal if the candidate clears every gate. now is
// threaded explicitly (rather than time.Now()) so cooldown/conflict
// windows are deterministic and testable.
func (f *Fuser) OnClose(ctx context.Context, key candle.Key, committed candle.Candle, window *candle.Window, now time.Time) (*Signal, RejectReason) {
	results := f.runAnalyzers(key, window)

	cand, ok := fuse(results)
	if !ok {
		f.reject(RejectNoTierMatch)
		return nil, RejectNoTierMatch
	}
	if cand.confidence < f.cfg.MinConfidence {
		f.reject(RejectLowConfidence)
		return nil, RejectLowConfidence
	}

	f.state.mu.Lock()
	lastSignal, hasCooldown := f.state.lastSignalByKey[key]
	lastDir, hasConflict := f.state.lastDirectionBySymbol[key.Symbol]
	f.state.mu.Unlock()

	if hasCooldown && now.Sub(lastSignal) < time.Duration(f.cfg.CooldownSeconds)*time.Second {
		f.reject(RejectCooldown)
		return nil, RejectCooldown
	}
	if f.cfg.PreventConflicts && hasConflict && lastDir.direction != cand.direction &&
		now.Sub(lastDir.at) < time.Duration(f.cfg.ConflictWindowSeconds)*time.Second {
		f.reject(RejectConflict)
		return nil, RejectConflict
	}

	sig, err := f.buildSignal(key, committed, window, cand, results, now)
	if err != nil {
		f.reject(RejectDegenerateLevels)
		return nil, RejectDegenerateLevels
	}

	f.state.mu.Lock()
	f.state.lastSignalByKey[key] = now
	f.state.lastDirectionBySymbol[key.Symbol] = directionStamp{direction: cand.direction, at: now}
	f.state.counters.Emitted++
	f.state.mu.Unlock()

	if f.persist != nil {
		if err := f.persist(ctx, sig); err != nil {
			f.log.Error().Err(err).Str("key", key.String()).Msg("failed to persist signal")
		}
	}
	if f.notify != nil {
		if err := f.notify(ctx, sig); err != nil {
			f.log.Warn().Err(err).Str("key", key.String()).Msg("notifier send failed, signal remains persisted")
		}
	}
	return &sig, RejectNone
}

func (f *Fuser) reject(reason RejectReason) {
	f.state.mu.Lock()
	f.state.counters.Rejects[reason]++
	f.state.mu.Unlock()
}

func (f *Fuser) runAnalyzers(key candle.Key, window *candle.Window) map[string]analyzer.Result {
	out := make(map[string]analyzer.Result, len(f.analyzers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, a := range f.analyzers {
		if a == nil {
			// A disabled slot counts as NONE, not as a missing result.
			mu.Lock()
			out[name] = analyzer.NoneResult("analyzer disabled")
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(name string, a analyzer.Analyzer) {
			defer wg.Done()
			res := f.safeAnalyze(a, key, window)
			mu.Lock()
			out[name] = res
			mu.Unlock()
		}(name, a)
	}
	wg.Wait()
	return out
}

// safeAnalyze recovers a panicking analyzer and treats it as NONE, per
// spec.md §4.7's "an analyzer exception is caught ... treated as NONE".
func (f *Fuser) safeAnalyze(a analyzer.Analyzer, key candle.Key, window *candle.Window) (res analyzer.Result) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Interface("panic", r).Str("analyzer", a.Name()).Msg("analyzer panicked, treating as NONE")
			res = analyzer.NoneResult(fmt.Sprintf("panic: %v", r))
		}
	}()
	return a.Analyze(key, window)
}

// contradicted reports whether some analyzer not in required holds a
// present, opposite-direction result from dir — spec.md §4.7's veto: "any
// tier's direction is contradicted by a present-and-opposite analyzer
// among the inputs it did not require, reject".
func contradicted(dir analyzer.Direction, required map[string]bool, results map[string]analyzer.Result) bool {
	opposite := analyzer.Short
	if dir == analyzer.Short {
		opposite = analyzer.Long
	}
	for name, res := range results {
		if required[name] {
			continue
		}
		if res.Signal == opposite {
			return true
		}
	}
	return false
}

// fuse applies the first-matching-tier rule from spec.md §4.7. A tier
// that would otherwise match is skipped (falling through to the next
// tier) if a non-required analyzer present in results holds the opposite
// direction.
func fuse(results map[string]analyzer.Result) (candidate, bool) {
	wy, el, rsi, macd := results["wyckoff"], results["elliott"], results["rsi"], results["macd"]

	// Tier 1: Wyckoff and Elliott agree on a direction.
	if wy.Signal != analyzer.None && wy.Signal == el.Signal {
		dir := wy.Signal
		required := map[string]bool{"wyckoff": true, "elliott": true}
		if !contradicted(dir, required, results) {
			conf := (wy.Confidence + el.Confidence) / 2
			if rsi.Signal == dir {
				conf += 0.05
			}
			if macd.Signal == dir {
				conf += 0.05
			}
			return candidate{direction: dir, tier: Tier1, confidence: analyzer.Clamp(conf, 0, 0.95),
				reason: "wyckoff+elliott agreement"}, true
		}
	}

	// Tier 2: a pattern signal present, and RSI+MACD both agree with it.
	patterns := []struct {
		name   string
		result analyzer.Result
	}{{"wyckoff", wy}, {"elliott", el}}
	for _, p := range patterns {
		if p.result.Signal == analyzer.None {
			continue
		}
		if rsi.Signal == p.result.Signal && macd.Signal == p.result.Signal {
			required := map[string]bool{p.name: true, "rsi": true, "macd": true}
			if !contradicted(p.result.Signal, required, results) {
				conf := (p.result.Confidence + rsi.Confidence + macd.Confidence) / 3
				return candidate{direction: p.result.Signal, tier: Tier2, confidence: conf,
					reason: "pattern confirmed by rsi+macd"}, true
			}
		}
	}

	// Tier 3: RSI and MACD agree; no pattern signal required.
	if rsi.Signal != analyzer.None && rsi.Signal == macd.Signal {
		required := map[string]bool{"rsi": true, "macd": true}
		if !contradicted(rsi.Signal, required, results) {
			conf := (rsi.Confidence + macd.Confidence) / 2
			return candidate{direction: rsi.Signal, tier: Tier3, confidence: conf, reason: "rsi+macd agreement"}, true
		}
	}

	// Tier 3.5: a single momentum indicator, sufficiently confident alone.
	if rsi.Signal != analyzer.None && rsi.Confidence >= 0.80 {
		required := map[string]bool{"rsi": true}
		if !contradicted(rsi.Signal, required, results) {
			return candidate{direction: rsi.Signal, tier: Tier3_5, confidence: rsi.Confidence * 0.85,
				reason: "rsi alone, high confidence"}, true
		}
	}
	if macd.Signal != analyzer.None && macd.Confidence >= 0.75 {
		required := map[string]bool{"macd": true}
		if !contradicted(macd.Signal, required, results) {
			return candidate{direction: macd.Signal, tier: Tier3_5, confidence: macd.Confidence * 0.85,
				reason: "macd alone, high confidence"}, true
		}
	}

	// Tier 4: a single pattern analyzer, sufficiently confident alone.
	if wy.Signal != analyzer.None && wy.Confidence >= 0.75 {
		required := map[string]bool{"wyckoff": true}
		if !contradicted(wy.Signal, required, results) {
			return candidate{direction: wy.Signal, tier: Tier4, confidence: wy.Confidence * 0.90,
				reason: "wyckoff alone, high confidence"}, true
		}
	}
	if el.Signal != analyzer.None && el.Confidence >= 0.75 {
		required := map[string]bool{"elliott": true}
		if !contradicted(el.Signal, required, results) {
			return candidate{direction: el.Signal, tier: Tier4, confidence: el.Confidence * 0.90,
				reason: "elliott alone, high confidence"}, true
		}
	}

	return candidate{}, false
}

func (f *Fuser) buildSignal(key candle.Key, committed candle.Candle, window *candle.Window, cand candidate,
	results map[string]analyzer.Result, now time.Time) (Signal, error) {

	closes := window.Closes()
	highs := make([]float64, len(window.Candles()))
	lows := make([]float64, len(window.Candles()))
	bars := make([]indicators.PriceBar, len(window.Candles()))
	for i, c := range window.Candles() {
		highs[i], lows[i] = c.High, c.Low
		bars[i] = indicators.PriceBar{High: c.High, Low: c.Low, Close: c.Close}
	}
	atr := indicators.ATR(bars, 14)
	_ = closes

	entry := committed.Close
	slMult, tpMult := f.cfg.ATRStopMult, f.cfg.ATRTakeProfitMult

	var sl, tp1, tp2, tp3 float64
	switch cand.direction {
	case analyzer.Long:
		sl = entry - slMult*atr
		tp1 = entry + tpMult*atr
		tp2 = entry + 2*tpMult*atr
		tp3 = entry + 3*tpMult*atr
		if entry-sl <= 0 {
			return Signal{}, fmt.Errorf("degenerate risk for %s: entry=%v sl=%v", key, entry, sl)
		}
	case analyzer.Short:
		sl = entry + slMult*atr
		tp1 = entry - tpMult*atr
		tp2 = entry - 2*tpMult*atr
		tp3 = entry - 3*tpMult*atr
		if sl-entry <= 0 {
			return Signal{}, fmt.Errorf("degenerate risk for %s: entry=%v sl=%v", key, entry, sl)
		}
	default:
		return Signal{}, fmt.Errorf("fuser: candidate has no direction")
	}

	return Signal{
		ID: uuid.NewString(), Symbol: key.Symbol, Timeframe: key.Timeframe,
		Direction: cand.direction, EntryPrice: entry,
		StopLoss: sl, TakeProfit1: tp1, TakeProfit2: tp2, TakeProfit3: tp3,
		Confidence: cand.confidence, Tier: cand.tier, Reason: cand.reason,
		SubResults: results, EmittedAt: now,
	}, nil
}
