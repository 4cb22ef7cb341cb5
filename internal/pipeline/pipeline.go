// Package pipeline wires stream ingestion, candle aggregation, signal
// fusion, and persistence into one running process per spec.md §5's
// component diagram, and owns the cooperative shutdown sequence.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/signalpipe/internal/aggregator"
	"github.com/sawpanic/signalpipe/internal/analyzer"
	"github.com/sawpanic/signalpipe/internal/analyzer/elliott"
	"github.com/sawpanic/signalpipe/internal/analyzer/macdanalyzer"
	"github.com/sawpanic/signalpipe/internal/analyzer/rsianalyzer"
	"github.com/sawpanic/signalpipe/internal/analyzer/wyckoff"
	"github.com/sawpanic/signalpipe/internal/candle"
	"github.com/sawpanic/signalpipe/internal/config"
	"github.com/sawpanic/signalpipe/internal/fuser"
	"github.com/sawpanic/signalpipe/internal/history"
	"github.com/sawpanic/signalpipe/internal/metrics"
	"github.com/sawpanic/signalpipe/internal/notifier"
	"github.com/sawpanic/signalpipe/internal/rediscache"
	"github.com/sawpanic/signalpipe/internal/store"
	"github.com/sawpanic/signalpipe/internal/stream"
)

// drainTimeout bounds how long Shutdown waits for already-ingested events
// to finish flowing through the aggregator's worker pool (spec.md §5).
const drainTimeout = 5 * time.Second

// Pipeline owns every long-lived component for one running process:
// a stream client per configured key set, one Aggregator, one Fuser, and
// the Store/Notifier they write through.
type Pipeline struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *metrics.Registry

	store    store.Store
	notifier notifier.Notifier

	agg    *aggregator.Aggregator
	fuser  *fuser.Fuser
	stream *stream.Client
	hist   *history.Client
	warm   *rediscache.Cache

	wg sync.WaitGroup
}

// New builds a Pipeline from cfg, wiring the four analyzers, the ATR-based
// fuser, and the history/stream clients. st and notif are used as given;
// wrapping notif in a rate limiter is up to the caller.
func New(cfg config.Config, st store.Store, notif notifier.Notifier, reg *metrics.Registry, log zerolog.Logger) (*Pipeline, error) {
	log = log.With().Str("component", "pipeline").Logger()

	p := &Pipeline{cfg: cfg, log: log, metrics: reg, store: st, notifier: notif}

	fcfg := fuser.Config{
		MinConfidence:         cfg.MinConfidence,
		CooldownSeconds:       cfg.CooldownSeconds,
		PreventConflicts:      cfg.PreventConflicts,
		ConflictWindowSeconds: cfg.ConflictWindowSeconds,
		ATRStopMult:           cfg.ATRStopMult,
		ATRTakeProfitMult:     cfg.ATRTakeProfitMult,
	}
	set := fuser.AnalyzerSet{
		Wyckoff: enabledOrNil(cfg.EnableWyckoff, wyckoff.New()),
		Elliott: enabledOrNil(cfg.EnableElliott, elliott.New()),
		RSI:     enabledOrNil(cfg.EnableRSI, rsianalyzer.New()),
		MACD:    enabledOrNil(cfg.EnableMACD, macdanalyzer.New()),
	}
	p.fuser = fuser.New(fcfg, set, p.persistSignal, p.notifySignal, log)

	p.agg = aggregator.New(log, p.onClose,
		aggregator.WithWindowSize(cfg.WindowSize),
		aggregator.WithPersist(st.UpsertCandle))

	p.hist = history.New(history.DefaultConfig(cfg.HistoryURL), log).
		WithResponseCache(history.NewAutoResponseCache(30 * time.Second))
	p.warm = rediscache.NewAuto(24 * time.Hour)

	cl, err := stream.New(cfg.StreamURL, cfg.Keys(), p.onUpdate, log)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build stream client: %w", err)
	}
	p.stream = cl

	return p, nil
}

// enabledOrNil returns a nil analyzer.Analyzer interface value when
// disabled. The fuser does not run a nil analyzer and records its result
// as NONE, exactly the way a registered-but-silent analyzer would count.
func enabledOrNil[T analyzer.Analyzer](enabled bool, a T) analyzer.Analyzer {
	if !enabled {
		return nil
	}
	return a
}

// Warmup fetches startup history for every configured key and pre-populates
// the aggregator's windows before the stream is started (spec.md §4.3).
func (p *Pipeline) Warmup(ctx context.Context) error {
	for _, key := range p.cfg.Keys() {
		candles, fromCache := p.warm.LoadWindow(ctx, key)
		if !fromCache {
			var err error
			candles, err = p.hist.FetchRecent(ctx, key, p.cfg.StartupCandles)
			if err != nil {
				return fmt.Errorf("pipeline: warmup %s: %w", key, err)
			}
		}
		if err := p.agg.WarmStart(key, candles); err != nil {
			return fmt.Errorf("pipeline: warm start %s: %w", key, err)
		}
		if !fromCache {
			if err := p.warm.SaveWindow(ctx, key, candles); err != nil {
				p.log.Warn().Err(err).Str("key", key.String()).Msg("failed to cache warm-start window")
			}
		}
		p.log.Info().Str("key", key.String()).Int("candles", len(candles)).Bool("from_cache", fromCache).
			Msg("warmed up")
	}
	return nil
}

// Run starts the stream client and blocks until ctx is cancelled. The
// stream client retries every dial, subscribe and read failure itself, so
// Run does not return a stream error to its caller.
func (p *Pipeline) Run(ctx context.Context) error {
	p.wg.Add(1)
	defer p.wg.Done()
	return p.stream.Run(ctx)
}

// Shutdown waits for Run to return (the caller stops it by cancelling
// Run's ctx), then lets in-flight close events finish fusing and releases
// the aggregator's worker pool. It stops waiting after drainTimeout or
// when ctx ends, whichever comes first (spec.md §5 shutdown sequence).
func (p *Pipeline) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.agg.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.log.Warn().Msg("shutdown drain timed out")
	case <-ctx.Done():
	}
	return nil
}

// onUpdate is the stream.Handler: every kline update is fed to the
// aggregator, which commits and dispatches at most once per closed bar.
func (p *Pipeline) onUpdate(ctx context.Context, u aggregator.KlineUpdate) error {
	return p.agg.Ingest(ctx, u)
}

// onClose is the aggregator.CloseHandler: it runs the fuser over the
// freshly committed candle's window.
func (p *Pipeline) onClose(ctx context.Context, ev aggregator.CloseEvent) {
	if p.metrics != nil {
		p.metrics.CandlesCommitted.WithLabelValues(ev.Key.Symbol, string(ev.Key.Timeframe)).Inc()
	}
	if ev.Window.Len() < p.cfg.MinCandles {
		return
	}

	start := time.Now()
	_, reason := p.fuser.OnClose(ctx, ev.Key, ev.Candle, ev.Window, time.Now())
	if p.metrics != nil {
		p.metrics.FuseLatency.WithLabelValues(ev.Key.Symbol, string(ev.Key.Timeframe)).Observe(time.Since(start).Seconds())
		if reason != fuser.RejectNone {
			p.metrics.SignalsRejected.WithLabelValues(string(reason)).Inc()
		}
	}
}

func (p *Pipeline) persistSignal(ctx context.Context, sig fuser.Signal) error {
	if p.metrics != nil {
		p.metrics.SignalsEmitted.WithLabelValues(sig.Symbol, string(sig.Timeframe), string(sig.Direction), string(sig.Tier)).Inc()
	}
	return p.store.InsertSignal(ctx, sig)
}

func (p *Pipeline) notifySignal(ctx context.Context, sig fuser.Signal) error {
	if p.notifier == nil {
		return nil
	}
	return p.notifier.PublishSignal(ctx, sig)
}

// Status summarizes the pipeline's current fuser counters, for a status
// subcommand or health endpoint.
type Status struct {
	Emitted  int64
	Rejected map[fuser.RejectReason]int64
	Keys     []candle.Key
}

func (p *Pipeline) Status() Status {
	snap := p.fuser.State().Snapshot()
	return Status{Emitted: snap.Emitted, Rejected: snap.Rejects, Keys: p.cfg.Keys()}
}
