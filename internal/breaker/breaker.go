// Package breaker wraps github.com/sony/gobreaker with the trip policy
// and structured logging used for the pipeline's outbound history HTTP
// calls.
package breaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Config tunes when a named breaker trips and how long it stays open.
type Config struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	ErrorRatePercent     float64
}

// DefaultConfig matches the trip policy the teacher codebase used for its
// exchange providers: trip after 3 consecutive failures, or once 20+
// requests have been seen and more than 5% of them failed.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 3,
		ErrorRatePercent:    5.0,
	}
}

// Breaker is a thin, logged wrapper around gobreaker.CircuitBreaker.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Breaker {
	log = log.With().Str("breaker", cfg.Name).Logger()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests)*100 > cfg.ErrorRatePercent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

// Execute runs fn through the breaker, returning its result unchanged or
// gobreaker.ErrOpenState/ErrTooManyRequests if the breaker is tripped.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state for health/status reporting.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
