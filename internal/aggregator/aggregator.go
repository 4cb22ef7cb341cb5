// Package aggregator turns a stream of exchange kline updates into
// committed closed candles, owning exactly one candle.Window per
// (symbol, timeframe) key and dispatching a close event the moment a
// candle's open_time advances (spec.md §4.1).
package aggregator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sawpanic/signalpipe/internal/candle"
)

// KlineUpdate is a single partial-or-final bar update as delivered by the
// exchange's kline stream (see internal/stream). Exchanges emit one of
// these per trade that lands in the current bucket, with IsFinal set only
// on the update that closes the bucket.
type KlineUpdate struct {
	Symbol    string
	Timeframe candle.Timeframe
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool
}

func (u KlineUpdate) key() candle.Key {
	return candle.Key{Symbol: u.Symbol, Timeframe: u.Timeframe}
}

func (u KlineUpdate) candle() candle.Candle {
	return candle.Candle{
		Symbol: u.Symbol, Timeframe: u.Timeframe,
		OpenTime: u.OpenTime, CloseTime: u.CloseTime,
		Open: u.Open, High: u.High, Low: u.Low, Close: u.Close, Volume: u.Volume,
	}
}

// PersistFunc upserts a committed candle before close handlers observe it.
// A duplicate key (already-persisted candle) must be treated as success
// by the implementation, per spec.md §4.8.
type PersistFunc func(ctx context.Context, c candle.Candle) error

// Aggregator owns one candle.Window per key and commits a candle exactly
// once when the stream moves past its open_time.
type Aggregator struct {
	log zerolog.Logger

	mu      sync.RWMutex
	windows map[candle.Key]*candle.Window
	locks   map[candle.Key]*sync.Mutex
	// pending holds the in-progress (not-yet-committed) bar per key. Kept
	// out of candle.Window so the window only ever holds committed
	// candles, matching spec.md §4.1's "window holds only closed candles"
	// invariant.
	pending map[candle.Key]candle.Candle

	windowSize int
	workers    int
	persist    PersistFunc
	dispatcher *dispatcher
}

// Option configures an Aggregator at construction.
type Option func(*Aggregator)

func WithWindowSize(n int) Option {
	return func(a *Aggregator) { a.windowSize = n }
}

func WithPersist(fn PersistFunc) Option {
	return func(a *Aggregator) { a.persist = fn }
}

// WithWorkers sets the close-dispatch worker pool size. Every (symbol,
// tf) key is always routed to the same worker, so raising this only buys
// cross-key parallelism, never reorders a single key's events.
func WithWorkers(n int) Option {
	return func(a *Aggregator) { a.workers = n }
}

// New builds an Aggregator. handler is invoked once per committed candle;
// it runs on a bounded worker pool keyed by (symbol, tf) so same-key
// events stay ordered while different keys proceed concurrently.
func New(log zerolog.Logger, handler CloseHandler, opts ...Option) *Aggregator {
	a := &Aggregator{
		log:        log.With().Str("component", "aggregator").Logger(),
		windows:    make(map[candle.Key]*candle.Window),
		locks:      make(map[candle.Key]*sync.Mutex),
		pending:    make(map[candle.Key]candle.Candle),
		windowSize: candle.DefaultWindowSize,
		workers:    4,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.dispatcher = newDispatcher(a.workers, handler)
	return a
}

// WarmStart pre-populates a key's window from history, most-recent-last.
// Must be called before Ingest for that key to take effect meaningfully.
func (a *Aggregator) WarmStart(key candle.Key, candles []candle.Candle) error {
	w := candle.NewWindow(key, a.windowSize)
	for _, c := range candles {
		w.Append(c)
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("aggregator: warm start %s: %w", key, err)
	}
	a.mu.Lock()
	a.windows[key] = w
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) keyLock(key candle.Key) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	return l
}

func (a *Aggregator) window(key candle.Key) *candle.Window {
	a.mu.RLock()
	w, ok := a.windows[key]
	a.mu.RUnlock()
	if ok {
		return w
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.windows[key]; ok {
		return w
	}
	w = candle.NewWindow(key, a.windowSize)
	a.windows[key] = w
	return w
}

// tailOf returns the most recently committed candle for key, without the
// lazy-create side effect of window(): a key with no committed candle yet
// must keep reporting no window at all (see Snapshot).
func (a *Aggregator) tailOf(key candle.Key) (candle.Candle, bool) {
	a.mu.RLock()
	w, ok := a.windows[key]
	a.mu.RUnlock()
	if !ok {
		return candle.Candle{}, false
	}
	return w.Tail()
}

// Ingest applies a single kline update. The bucket currently in progress is
// identified by the *pending* bar's open_time, never by the committed
// window's tail: the window only reflects already-closed bars, so
// comparing against it would let every update in a multi-update bucket
// look like "a new bucket has begun" and commit the same bucket more than
// once. A bucket commits exactly once, either when a later open_time
// arrives or when an update marks it final (spec.md §4.1 "Ordering", §8
// properties 1-2).
func (a *Aggregator) Ingest(ctx context.Context, u KlineUpdate) error {
	if u.Timeframe == "" || u.Symbol == "" {
		return fmt.Errorf("aggregator: malformed update: missing symbol/timeframe")
	}
	key := u.key()
	lock := a.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	a.mu.Lock()
	pending, hasPending := a.pending[key]
	a.mu.Unlock()

	if hasPending {
		switch {
		case u.OpenTime < pending.OpenTime:
			a.log.Warn().Str("key", key.String()).Int64("open_time", u.OpenTime).
				Msg("dropping stale kline update")
			return nil
		case u.OpenTime == pending.OpenTime:
			// Same bucket: refine the in-progress bar, or commit it if
			// this update finally marks it closed.
			a.setPending(key, u)
			if u.IsFinal {
				return a.commit(ctx, key)
			}
			return nil
		default: // u.OpenTime > pending.OpenTime: a new bucket has begun.
			if err := a.commit(ctx, key); err != nil {
				return err
			}
			a.setPending(key, u)
			if u.IsFinal {
				return a.commit(ctx, key)
			}
			return nil
		}
	}

	// No in-progress bar: either the very first update ever seen for this
	// key, or the first update after the previous bucket committed. Still
	// drop anything at-or-behind the last committed bar as stale.
	if tail, ok := a.tailOf(key); ok && u.OpenTime <= tail.OpenTime {
		a.log.Warn().Str("key", key.String()).Int64("open_time", u.OpenTime).
			Msg("dropping stale kline update")
		return nil
	}
	a.setPending(key, u)
	if u.IsFinal {
		return a.commit(ctx, key)
	}
	return nil
}

func (a *Aggregator) setPending(key candle.Key, u KlineUpdate) {
	a.mu.Lock()
	a.pending[key] = u.candle()
	a.mu.Unlock()
}

func (a *Aggregator) commit(ctx context.Context, key candle.Key) error {
	a.mu.Lock()
	c, ok := a.pending[key]
	delete(a.pending, key)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.Validate(); err != nil {
		a.log.Warn().Str("key", key.String()).Err(err).Msg("dropping invalid candle at commit")
		return nil
	}
	if a.persist != nil {
		if err := a.persist(ctx, c); err != nil {
			return fmt.Errorf("aggregator: persist %s: %w", key, err)
		}
	}
	w := a.window(key)
	w.Append(c)
	a.dispatcher.dispatch(CloseEvent{Key: key, Candle: c, Window: w.Clone()})
	return nil
}

// Close stops the dispatch worker pool, draining already-queued events.
func (a *Aggregator) Close() {
	a.dispatcher.stop()
}

// Snapshot returns a read-only clone of a key's committed window, or nil
// if nothing has been committed for that key yet.
func (a *Aggregator) Snapshot(key candle.Key) *candle.Window {
	a.mu.RLock()
	w, ok := a.windows[key]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.Clone()
}
