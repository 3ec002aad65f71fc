package walk

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mirokit/boardreport/pkg/client"
	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/fetch"
)

// Cursor walks one cursor-paginated collection (organization teams). Pages
// are strictly sequential: the next page URL exists only once the server
// hands out the cursor token, so there is nothing to fan out.
type Cursor struct {
	batcher  *fetch.Batcher
	registry *errtrack.Registry
	backoff  Backoff
	cfg      Config
	scope    string
	baseURL  string
	merge    MergePage
	logger   zerolog.Logger
}

// NewCursor creates a cursor walker for one collection.
func NewCursor(batcher *fetch.Batcher, registry *errtrack.Registry, backoff Backoff, cfg Config, scope, baseURL string, merge MergePage) *Cursor {
	return &Cursor{
		batcher:  batcher,
		registry: registry,
		backoff:  backoff,
		cfg:      cfg,
		scope:    scope,
		baseURL:  baseURL,
		merge:    merge,
		logger: log.With().
			Str("component", "cursor-walker").
			Str("scope", scope).
			Logger(),
	}
}

// Run drives the walker to a terminal state, following the opaque cursor
// token until the server stops returning one.
func (w *Cursor) Run(ctx context.Context) Result {
	processed := 0
	retries := 0
	cursor := ""
	state := Fetching

	for {
		if err := w.backoff.WaitIfPaused(ctx); err != nil {
			return w.abort(processed, err)
		}

		pageURL, err := w.pageURL(cursor)
		if err != nil {
			return w.abort(processed, err)
		}

		walkerRoundsTotal.WithLabelValues(w.scope, state.String()).Inc()
		w.logger.Debug().
			Str("state", state.String()).
			Str("url", pageURL).
			Int("processed", processed).
			Msg("Fetching page")

		outcomes := w.batcher.Fetch(ctx, []fetch.Request{{URL: pageURL}})
		o := &outcomes[0]

		if o.Success() {
			env, envErr := o.Envelope()
			if envErr == nil {
				count, mergeErr := w.merge(*o, env)
				if mergeErr == nil {
					processed += count
					w.registry.Clear(o.URL)
					retries = 0
					state = Fetching

					if o.RateLimited() {
						if err := w.backoff.Hold(ctx, w.cfg.Cooldown); err != nil {
							return w.abort(processed, err)
						}
					}

					if env.Cursor == "" {
						w.logger.Info().
							Int("processed", processed).
							Msg("Collection exhausted")
						return Result{State: Exhausted, OK: true, Processed: processed}
					}
					cursor = env.Cursor
					continue
				}
				envErr = mergeErr
			}
			w.registry.Record(errtrack.Entry{
				URL:     o.URL,
				Scope:   w.scope,
				Class:   client.ErrorClassServer,
				Message: envErr.Error(),
			})
		} else {
			w.registry.Record(entryFromOutcome(o, w.scope))
		}

		if o.RateLimited() {
			if err := w.backoff.Hold(ctx, w.cfg.Cooldown); err != nil {
				return w.abort(processed, err)
			}
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

		if e, ok := w.registry.Get(o.URL); ok && !client.Retryable(e.Class) {
			w.logger.Error().
				Int("status", e.StatusCode).
				Str("url", e.URL).
				Msg("Non-retryable failure on cursor page - aborting walk")
			return w.abort(processed, nil)
		}
		// Same cursor, same URL on the next round.
	}
}

// pageURL appends the cursor token to the base URL when present.
func (w *Cursor) pageURL(cursor string) (string, error) {
	if cursor == "" {
		return w.baseURL, nil
	}
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("cursor", cursor)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *Cursor) abort(processed int, err error) Result {
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
