package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mirokit/boardreport/pkg/client"
)

// Prometheus metrics for batch fetch operations.
var (
	batchWindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boardreport_fetch_windows_total",
		Help: "Total number of dispatched batch windows",
	})

	batchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardreport_fetch_outcomes_total",
		Help: "Total request outcomes by result",
	}, []string{"result"})
)

// Request identifies one URL to fetch together with the entity it belongs to.
type Request struct {
	URL      string
	EntityID string
}

// Outcome is the per-request result of a batch dispatch.
type Outcome struct {
	Request

	// Body is the raw response body, set only on success. Decoding is the
	// caller's business: collection pages carry an envelope, member
	// lookups a bare object.
	Body []byte

	// RateRemaining is the quota left after this request, or
	// client.RateRemainingUnknown.
	RateRemaining int

	Class      client.ErrorClass
	StatusCode int
	Err        error
}

// Success reports whether the request completed with a response body.
func (o *Outcome) Success() bool {
	return o.Err == nil
}

// Envelope decodes the outcome body as a collection envelope.
func (o *Outcome) Envelope() (*client.Envelope, error) {
	var env client.Envelope
	if err := json.Unmarshal(o.Body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope for %s: %w", o.URL, err)
	}
	return &env, nil
}

// RateLimited reports whether this outcome signals throttling: either a 429
// failure or a success whose remaining quota reached zero.
func (o *Outcome) RateLimited() bool {
	return o.Class == client.ErrorClassRateLimit || o.RateRemaining == 0
}

// Getter is the single-request interface the batcher fans out over.
type Getter interface {
	Get(ctx context.Context, url string) (*client.Response, error)
}

// Config holds batcher configuration.
type Config struct {
	// Window is the maximum number of parallel requests per window.
	Window int

	// Timeout per individual request.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Window:  100,
		Timeout: 30 * time.Second,
	}
}

// Batcher executes request batches in concurrency-capped windows.
type Batcher struct {
	getter Getter
	config Config
	logger zerolog.Logger
}

// NewBatcher creates a new batcher.
func NewBatcher(getter Getter, cfg Config) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Batcher{
		getter: getter,
		config: cfg,
		logger: log.With().Str("component", "batcher").Logger(),
	}
}

// Fetch issues all requests in windows of at most the configured size and
// returns one outcome per request, in request order. A window settles fully
// before the next one starts. Fetch itself never fails; individual failures
// are reported through their outcomes. The only shortcut is context
// cancellation, which marks the remaining requests as failed.
func (b *Batcher) Fetch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	for start := 0; start < len(reqs); start += b.config.Window {
		end := start + b.config.Window
		if end > len(reqs) {
			end = len(reqs)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(reqs); i++ {
				outcomes[i] = cancelledOutcome(reqs[i], err)
			}
			return outcomes
		}

		batchWindowsTotal.Inc()
		b.logger.Debug().
			Int("window_start", start).
			Int("window_size", end-start).
			Int("total", len(reqs)).
			Msg("Dispatching batch window")

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = b.fetchOne(gctx, reqs[i])
				return nil
			})
		}
		// Workers never return errors; Wait is pure settlement.
		_ = g.Wait()

		for i := start; i < end; i++ {
			if outcomes[i].Success() {
				batchOutcomesTotal.WithLabelValues("success").Inc()
			} else {
				batchOutcomesTotal.WithLabelValues(string(outcomes[i].Class)).Inc()
			}
		}
	}

	return outcomes
}

// fetchOne performs a single request and classifies its result. The outcome
// carries the request's own URL and entity id; nothing is derived from
// neighbouring results.
func (b *Batcher) fetchOne(ctx context.Context, req Request) Outcome {
	reqCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resp, err := b.getter.Get(reqCtx, req.URL)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return Outcome{
				Request:       req,
				RateRemaining: apiErr.RateRemaining,
				Class:         apiErr.Class,
				StatusCode:    apiErr.StatusCode,
				Err:           err,
			}
		}
		return Outcome{
			Request:       req,
			RateRemaining: client.RateRemainingUnknown,
			Class:         client.ErrorClassNetwork,
			Err:           err,
		}
	}

	return Outcome{
		Request:       req,
		Body:          resp.Body,
		RateRemaining: resp.RateRemaining,
		StatusCode:    resp.StatusCode,
	}
}

func cancelledOutcome(req Request, err error) Outcome {
	return Outcome{
		Request:       req,
		RateRemaining: client.RateRemainingUnknown,
		Class:         client.ErrorClassNetwork,
		Err:           err,
	}
}
