// Package walk drives paginated collection endpoints to completion.
//
// Three walker variants share the same machinery: Offset walks numeric
// offsets computed from the server-reported total, Cursor follows an opaque
// server-issued cursor token until it is absent, and List works through a
// fixed set of URLs in batches. Each walker moves through the states
// Fetching -> Retrying -> Exhausted | Aborted. Failed URLs are re-issued
// from the error registry exactly as recorded, a rate limit signal imposes
// one blanket cool-down before the next batch, and a bounded retry counter
// is the only escalation: a walker that exhausts its ceiling reports
// failure through its Result, never through a panic.
package walk

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/fetch"
)

// Prometheus metrics for walker operations.
var (
	walkerRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardreport_walker_rounds_total",
		Help: "Total walker rounds by walker kind and state",
	}, []string{"kind", "state"})

	walkerAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardreport_walker_aborts_total",
		Help: "Total walker aborts by walker kind",
	}, []string{"kind"})
)

// State is the walker state machine position.
type State int

const (
	// Fetching is normal forward pagination.
	Fetching State = iota

	// Retrying re-issues only failed URLs from the error registry.
	Retrying

	// Exhausted is terminal success: all items collected, registry empty.
	Exhausted

	// Aborted is terminal failure: the retry budget is spent.
	Aborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Retrying:
		return "retrying"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Backoff is the cool-down hook invoked on rate limit signals.
type Backoff interface {
	Hold(ctx context.Context, d time.Duration) error
	WaitIfPaused(ctx context.Context) error
}

// Config holds per-walker tuning.
type Config struct {
	// BatchSize is the maximum number of URLs per round.
	BatchSize int

	// PageSize is the number of items per page (offset walker).
	PageSize int

	// RetryCeiling bounds the number of retry rounds before Aborted.
	RetryCeiling int

	// Cooldown is the blanket hold imposed after a rate limit signal.
	Cooldown time.Duration
}

// Result is the terminal outcome of a walker run. Callers check OK; a
// failed walk never surfaces as an error value, so sibling walks continue.
type Result struct {
	State     State
	OK        bool
	Processed int
	Errors    []errtrack.Entry
}

// rateLimited reports whether any outcome of a settled round signalled
// throttling (a 429 failure or a zero remaining quota).
func rateLimited(outcomes []fetch.Outcome) bool {
	for i := range outcomes {
		if outcomes[i].RateLimited() {
			return true
		}
	}
	return false
}

// retryBatch builds the next retry round from the registry: retryable
// entries only, already-processed URLs excluded, capped at batchSize.
func retryBatch(registry *errtrack.Registry, processed map[string]bool, batchSize int) []fetch.Request {
	var reqs []fetch.Request
	for _, e := range registry.Retryable() {
		if processed[e.URL] {
			continue
		}
		reqs = append(reqs, fetch.Request{URL: e.URL, EntityID: e.EntityID})
		if len(reqs) >= batchSize {
			break
		}
	}
	return reqs
}
