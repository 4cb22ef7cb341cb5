// Package notifier defines the outbound signal-publish contract and a
// rate-limited wrapper around it. The chat-channel formatting/send
// implementation itself is out of scope (spec.md §1); this package only
// specifies and throttles the boundary the fuser calls through.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/signalpipe/internal/fuser"
)

// Notifier publishes an emitted Signal to an external channel. The core
// calls this at most once per Signal and does not await user-facing
// acknowledgement (spec.md §6).
type Notifier interface {
	PublishSignal(ctx context.Context, sig fuser.Signal) error
}

// PublishFunc adapts a plain function to Notifier.
type PublishFunc func(ctx context.Context, sig fuser.Signal) error

func (f PublishFunc) PublishSignal(ctx context.Context, sig fuser.Signal) error { return f(ctx, sig) }

// NoopNotifier drops every signal. Useful where no downstream consumer is
// wired (tests, or a deployment with persistence only).
type NoopNotifier struct{}

func (NoopNotifier) PublishSignal(context.Context, fuser.Signal) error { return nil }

// RateLimited wraps a Notifier with a per-process token bucket and a
// per-message send timeout, so a slow or misconfigured downstream can
// never block the fuser (spec.md §5 "notifier sends have a per-message
// timeout (default 5s); on timeout, log and drop").
type RateLimited struct {
	inner   Notifier
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
}

// NewRateLimited builds a throttled notifier: rps is the sustained
// publish rate, burst the instantaneous allowance, timeout the per-call
// deadline (default 5s if <= 0).
func NewRateLimited(inner Notifier, rps float64, burst int, timeout time.Duration, log zerolog.Logger) *RateLimited {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
		log:     log.With().Str("component", "notifier").Logger(),
	}
}

// PublishSignal waits for a token (respecting ctx) then calls through to
// the wrapped Notifier under a bounded timeout. A timeout or send error is
// logged and swallowed: the signal has already been persisted, so a
// notify failure never rolls anything back.
func (r *RateLimited) PublishSignal(ctx context.Context, sig fuser.Signal) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: rate limit wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.inner.PublishSignal(callCtx, sig)
	if err != nil {
		r.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("publish failed, signal remains persisted")
	}
	return nil
}
