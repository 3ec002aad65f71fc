package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for backoff operations.
var (
	holdsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boardreport_ratelimit_holds_total",
		Help: "Total number of rate limit cool-down holds",
	})

	holdSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "boardreport_ratelimit_hold_seconds",
		Help:    "Duration of rate limit cool-down holds",
		Buckets: []float64{1, 5, 10, 25, 38, 43, 61, 90},
	})
)

// Controller suspends work for a fixed cool-down window when the API
// signals throttling. No jitter, no exponential growth: the retry ceilings
// of the walkers are the only escalation mechanism.
type Controller struct {
	store  Store
	logger zerolog.Logger
}

// NewController creates a backoff controller on top of the given store.
func NewController(store Store) *Controller {
	return &Controller{
		store:  store,
		logger: log.With().Str("component", "ratelimit").Logger(),
	}
}

// Hold records a pause of the given duration and blocks until it elapses
// or the context is cancelled.
func (c *Controller) Hold(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	if err := c.store.SetPause(ctx, deadline); err != nil {
		// A store hiccup must not skip the local cool-down.
		c.logger.Warn().Err(err).Msg("Failed to persist pause deadline")
	}

	holdsTotal.Inc()
	holdSeconds.Observe(d.Seconds())

	c.logger.Warn().
		Dur("hold", d).
		Time("resume_at", deadline).
		Msg("Rate limit hit - holding execution to replenish quota")

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled during rate limit hold: %w", ctx.Err())
	case <-time.After(d):
	}

	c.logger.Info().Msg("Resuming after rate limit hold")
	return nil
}

// WaitIfPaused blocks until any pause recorded by this or another run has
// passed. It returns immediately when no pause is active.
func (c *Controller) WaitIfPaused(ctx context.Context) error {
	deadline, err := c.store.PausedUntil(ctx)
	if err != nil {
		return fmt.Errorf("read pause deadline: %w", err)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil
	}

	c.logger.Info().
		Dur("remaining", remaining).
		Msg("Shared cool-down active - waiting")

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled during shared cool-down: %w", ctx.Err())
	case <-time.After(remaining):
	}
	return nil
}
