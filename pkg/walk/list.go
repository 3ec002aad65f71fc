package walk

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mirokit/boardreport/pkg/client"
	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/fetch"
)

// MergeItem consumes one successfully fetched single-entity response
// (an organization member lookup).
type MergeItem func(o fetch.Outcome) error

// List works through a fixed set of URLs in batches, with the same
// registry/retry/backoff machinery as the paginated walkers. It drives the
// per-owner member lookups.
type List struct {
	batcher  *fetch.Batcher
	registry *errtrack.Registry
	backoff  Backoff
	cfg      Config
	scope    string
	merge    MergeItem
	logger   zerolog.Logger
}

// NewList creates a list walker.
func NewList(batcher *fetch.Batcher, registry *errtrack.Registry, backoff Backoff, cfg Config, scope string, merge MergeItem) *List {
	return &List{
		batcher:  batcher,
		registry: registry,
		backoff:  backoff,
		cfg:      cfg,
		scope:    scope,
		merge:    merge,
		logger: log.With().
			Str("component", "list-walker").
			Str("scope", scope).
			Logger(),
	}
}

// Run drives the walker over all requests to a terminal state.
func (w *List) Run(ctx context.Context, reqs []fetch.Request) Result {
	total := len(reqs)
	processed := 0
	next := 0
	retries := 0
	processedURLs := make(map[string]bool)
	pendingHold := false

	state := Fetching

	for processed < total || !w.registry.Empty() {
		var batch []fetch.Request

		if w.registry.Empty() {
			state = Fetching
			end := next + w.cfg.BatchSize
			if end > total {
				end = total
			}
			batch = reqs[next:end]
			next = end
		} else {
			state = Retrying
			retries++
			if retries >= w.cfg.RetryCeiling {
				w.logger.Error().
					Int("retries", retries).
					Int("ceiling", w.cfg.RetryCeiling).
					Msg("Maximum retry attempts reached - aborting walk")
				return w.abort(processed)
			}
			batch = retryBatch(w.registry, processedURLs, w.cfg.BatchSize)
			if len(batch) == 0 {
				w.logger.Error().
					Int("errors", w.registry.Len()).
					Msg("No retryable requests left - aborting walk")
				return w.abort(processed)
			}
		}

		if len(batch) == 0 {
			// Registry empty but unprocessed count disagrees; nothing more
			// can be asked for.
			break
		}

		if pendingHold {
			if err := w.backoff.Hold(ctx, w.cfg.Cooldown); err != nil {
				w.logger.Error().Err(err).Msg("Walk aborted")
				return w.abort(processed)
			}
			pendingHold = false
		}
		if err := w.backoff.WaitIfPaused(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Walk aborted")
			return w.abort(processed)
		}

		walkerRoundsTotal.WithLabelValues(w.scope, state.String()).Inc()
		w.logger.Info().
			Str("state", state.String()).
			Int("batch", len(batch)).
			Int("remaining", total-processed).
			Msg("Dispatching round")

		outcomes := w.batcher.Fetch(ctx, batch)
		for i := range outcomes {
			o := &outcomes[i]
			if !o.Success() {
				w.registry.Record(entryFromOutcome(o, w.scope))
				continue
			}

			if err := w.merge(*o); err != nil {
				w.registry.Record(errtrack.Entry{
					URL:      o.URL,
					EntityID: o.EntityID,
					Scope:    w.scope,
					Class:    client.ErrorClassServer,
					Message:  err.Error(),
				})
				continue
			}

			processed++
			processedURLs[o.URL] = true
			w.registry.Clear(o.URL)
		}

		if rateLimited(outcomes) {
			pendingHold = true
		}
		if w.registry.Empty() {
			retries = 0
		}
	}

	w.logger.Info().
		Int("processed", processed).
		Int("total", total).
		Msg("Collection exhausted")
	return Result{State: Exhausted, OK: true, Processed: processed}
}

func (w *List) abort(processed int) Result {
	walkerAbortsTotal.WithLabelValues(w.scope).Inc()
	return Result{
		State:     Aborted,
		Processed: processed,
		Errors:    w.registry.Snapshot(),
	}
}
