// Package metrics registers the Prometheus instruments surfaced by the
// pipeline: emission/reject counts, stream health, and analyzer errors
// (spec.md §7's "rejected candidates ... exported via an internal
// counter/metric").
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric the pipeline publishes. A single Registry
// is constructed at startup and threaded into the components that emit
// to it; it carries no mutable state of its own beyond what prometheus's
// vectors already synchronize internally.
type Registry struct {
	SignalsEmitted   *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	StreamReconnects *prometheus.CounterVec
	AnalyzerErrors   *prometheus.CounterVec
	CandlesCommitted *prometheus.CounterVec
	FuseLatency      *prometheus.HistogramVec
}

// New constructs a Registry and registers every instrument with reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// global default registry across package-level test runs.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalpipe_signals_emitted_total",
			Help: "Total signals emitted, by symbol, timeframe, direction, and fusion tier.",
		}, []string{"symbol", "timeframe", "direction", "tier"}),

		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalpipe_signals_rejected_total",
			Help: "Total fuser candidates rejected, by reason.",
		}, []string{"reason"}),

		StreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalpipe_stream_reconnects_total",
			Help: "Total stream reconnect attempts, by outcome.",
		}, []string{"outcome"}),

		AnalyzerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalpipe_analyzer_errors_total",
			Help: "Total analyzer panics/errors caught at the fuser boundary, by analyzer name.",
		}, []string{"analyzer"}),

		CandlesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalpipe_candles_committed_total",
			Help: "Total candles committed by the aggregator, by symbol and timeframe.",
		}, []string{"symbol", "timeframe"}),

		FuseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalpipe_fuse_duration_seconds",
			Help:    "Wall-clock time spent fusing analyzer results per close event.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"symbol", "timeframe"}),
	}

	reg.MustRegister(m.SignalsEmitted, m.SignalsRejected, m.StreamReconnects,
		m.AnalyzerErrors, m.CandlesCommitted, m.FuseLatency)
	return m
}
