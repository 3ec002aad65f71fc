package walk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mirokit/boardreport/pkg/client"
	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/fetch"
)

// MergePage consumes one successfully fetched collection page and returns
// the number of items merged into the aggregation store.
type MergePage func(o fetch.Outcome, env *client.Envelope) (int, error)

// Offset walks one offset-paginated collection (boards of a team) until the
// processed item count reaches the server-reported total.
type Offset struct {
	batcher  *fetch.Batcher
	registry *errtrack.Registry
	backoff  Backoff
	cfg      Config
	scope    string
	baseURL  string
	entityID string
	merge    MergePage
	logger   zerolog.Logger
}

// NewOffset creates an offset walker for one collection. baseURL is the
// first-page URL including the limit parameter; further pages are derived
// by appending numeric offsets. entityID identifies the owning entity
// (team id) and rides along with every request.
func NewOffset(batcher *fetch.Batcher, registry *errtrack.Registry, backoff Backoff, cfg Config, scope, baseURL, entityID string, merge MergePage) *Offset {
	return &Offset{
		batcher:  batcher,
		registry: registry,
		backoff:  backoff,
		cfg:      cfg,
		scope:    scope,
		baseURL:  baseURL,
		entityID: entityID,
		merge:    merge,
		logger: log.With().
			Str("component", "offset-walker").
			Str("scope", scope).
			Str("entity", entityID).
			Logger(),
	}
}

// Run drives the walker to a terminal state.
func (w *Offset) Run(ctx context.Context) Result {
	processed := 0
	total := -1
	retries := 0
	processedURLs := make(map[string]bool)
	pendingHold := false

	state := Fetching
	batch := []fetch.Request{{URL: w.baseURL, EntityID: w.entityID}}

	for {
		if pendingHold {
			if err := w.backoff.Hold(ctx, w.cfg.Cooldown); err != nil {
				return w.abort(processed, err)
			}
			pendingHold = false
		}
		if err := w.backoff.WaitIfPaused(ctx); err != nil {
			return w.abort(processed, err)
		}

		walkerRoundsTotal.WithLabelValues(w.scope, state.String()).Inc()
		w.logger.Debug().
			Str("state", state.String()).
			Int("batch", len(batch)).
			Int("processed", processed).
			Int("total", total).
			Msg("Dispatching round")

		outcomes := w.batcher.Fetch(ctx, batch)
		for i := range outcomes {
			o := &outcomes[i]
			if !o.Success() {
				w.registry.Record(entryFromOutcome(o, w.scope))
				continue
			}

			env, err := o.Envelope()
			if err != nil {
				// An undecodable body counts as a flaky server response.
				w.registry.Record(errtrack.Entry{
					URL:      o.URL,
					EntityID: o.EntityID,
					Scope:    w.scope,
					Class:    client.ErrorClassServer,
					Message:  err.Error(),
				})
				continue
			}

			count, err := w.merge(*o, env)
			if err != nil {
				w.registry.Record(errtrack.Entry{
					URL:      o.URL,
					EntityID: o.EntityID,
					Scope:    w.scope,
					Class:    client.ErrorClassServer,
					Message:  err.Error(),
				})
				continue
			}

			processed += count
			processedURLs[o.URL] = true
			w.registry.Clear(o.URL)
			if total < 0 {
				total = env.Total
			}
		}

		if rateLimited(outcomes) {
			pendingHold = true
		}

		if w.registry.Empty() {
			retries = 0
			if total >= 0 && processed >= total {
				w.logger.Info().
					Int("processed", processed).
					Int("total", total).
					Msg("Collection exhausted")
				return Result{State: Exhausted, OK: true, Processed: processed}
			}
			state = Fetching
			batch = w.forwardBatch(processed, total)
			if len(batch) == 0 {
				// Server total overstated the collection; nothing left to ask for.
				return Result{State: Exhausted, OK: true, Processed: processed}
			}
			continue
		}

		state = Retrying
		retries++
		if retries >= w.cfg.RetryCeiling {
			w.logger.Error().
				Int("retries", retries).
				Int("ceiling", w.cfg.RetryCeiling).
				Msg("Maximum retry attempts reached - aborting walk")
			return w.abort(processed, nil)
		}

		batch = retryBatch(w.registry, processedURLs, w.cfg.BatchSize)
		if len(batch) == 0 {
			// Only non-retryable failures remain.
			w.logger.Error().
				Int("errors", w.registry.Len()).
				Msg("No retryable requests left - aborting walk")
			return w.abort(processed, nil)
		}
	}
}

// forwardBatch computes the next batch of forward-paginated offsets from the
// known total and the running processed count.
func (w *Offset) forwardBatch(processed, total int) []fetch.Request {
	remaining := total - processed
	if remaining <= 0 {
		return nil
	}

	pages := (remaining + w.cfg.PageSize - 1) / w.cfg.PageSize
	if pages > w.cfg.BatchSize {
		pages = w.cfg.BatchSize
	}

	reqs := make([]fetch.Request, 0, pages)
	for i := 0; i < pages; i++ {
		url := fmt.Sprintf("%s&offset=%d", w.baseURL, processed+i*w.cfg.PageSize)
		reqs = append(reqs, fetch.Request{URL: url, EntityID: w.entityID})
	}
	return reqs
}

func (w *Offset) abort(processed int, err error) Result {
	if err != nil {
		w.logger.Error().Err(err).Msg("Walk aborted")
	}
	walkerAbortsTotal.WithLabelValues(w.scope).Inc()
	return Result{
		State:     Aborted,
		Processed: processed,
		Errors:    w.registry.Snapshot(),
	}
}

// entryFromOutcome converts a failed outcome into a registry entry. URL and
// entity id come from the outcome's own request record.
func entryFromOutcome(o *fetch.Outcome, scope string) errtrack.Entry {
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	return errtrack.Entry{
		URL:        o.URL,
		EntityID:   o.EntityID,
		Scope:      scope,
		Class:      o.Class,
		StatusCode: o.StatusCode,
		Message:    msg,
	}
}
