package walk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/mirokit/boardreport/internal/testutil"
	"github.com/mirokit/boardreport/pkg/errtrack"
	"github.com/mirokit/boardreport/pkg/fetch"
)

func memberRequests(base string, n int) []fetch.Request {
	reqs := make([]fetch.Request, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("u%02d", i)
		reqs = append(reqs, fetch.Request{
			URL:      fmt.Sprintf("%s/v2/orgs/org1/members/%s", base, id),
			EntityID: id,
		})
	}
	return reqs
}

func seedMembers(mock *testutil.MockAPI, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("u%02d", i)
		mock.SetMemberEmail(id, id+"@example.com")
	}
}

// memberCollector records resolved emails keyed by entity id.
func memberCollector(t *testing.T, emails map[string]string) MergeItem {
	return func(o fetch.Outcome) error {
		t.Helper()
		var m struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(o.Body, &m); err != nil {
			return err
		}
		emails[o.EntityID] = m.Email
		return nil
	}
}

func TestList_ProcessesAllInBatches(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	seedMembers(mock, 10)

	emails := make(map[string]string)
	w := NewList(newTestBatcher(t, mock), errtrack.NewRegistry(), &recordingBackoff{},
		Config{BatchSize: 3, RetryCeiling: 13, Cooldown: time.Millisecond},
		"members", memberCollector(t, emails))

	res := w.Run(context.Background(), memberRequests(mock.URL(), 10))

	if !res.OK || res.State != Exhausted {
		t.Fatalf("Result = %+v, want exhausted success", res)
	}
	if res.Processed != 10 {
		t.Errorf("Processed = %d, want 10", res.Processed)
	}
	if len(emails) != 10 {
		t.Fatalf("Resolved %d emails, want 10", len(emails))
	}
	if emails["u07"] != "u07@example.com" {
		t.Errorf("emails[u07] = %q, want u07@example.com", emails["u07"])
	}
	if mock.TotalRequests() != 10 {
		t.Errorf("TotalRequests = %d, want 10 (each member fetched once)", mock.TotalRequests())
	}
}

func TestList_RecoversFromTransientFailure(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	seedMembers(mock, 10)
	mock.FailNext("/v2/orgs/org1/members/u04", 500)

	emails := make(map[string]string)
	w := NewList(newTestBatcher(t, mock), errtrack.NewRegistry(), &recordingBackoff{},
		Config{BatchSize: 3, RetryCeiling: 13, Cooldown: time.Millisecond},
		"members", memberCollector(t, emails))

	res := w.Run(context.Background(), memberRequests(mock.URL(), 10))

	if !res.OK || res.Processed != 10 {
		t.Fatalf("Result = %+v, want full recovery", res)
	}
	if got := mock.Requests("/v2/orgs/org1/members/u04"); got != 2 {
		t.Errorf("Failed member requested %d times, want 2", got)
	}
}

func TestList_AbortsAtRetryCeiling(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	seedMembers(mock, 4)
	mock.FailNext("/v2/orgs/org1/members/u02", 500, 500, 500, 500)

	registry := errtrack.NewRegistry()
	emails := make(map[string]string)
	w := NewList(newTestBatcher(t, mock), registry, &recordingBackoff{},
		Config{BatchSize: 4, RetryCeiling: 2, Cooldown: time.Millisecond},
		"members", memberCollector(t, emails))

	res := w.Run(context.Background(), memberRequests(mock.URL(), 4))

	if res.OK || res.State != Aborted {
		t.Fatalf("Result = %+v, want aborted failure", res)
	}
	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3 healthy members before abort", res.Processed)
	}
	if got := mock.Requests("/v2/orgs/org1/members/u02"); got != 2 {
		t.Errorf("Failing member requested %d times, want 2 (ceiling)", got)
	}

	ids := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		ids = append(ids, e.EntityID)
	}
	sort.Strings(ids)
	if len(ids) != 1 || ids[0] != "u02" {
		t.Errorf("Registry entities = %v, want [u02]", ids)
	}
}

func TestList_UnseededMemberIsNotRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	seedMembers(mock, 3)
	// u99 is not seeded, so the mock serves 404 for it.
	reqs := append(memberRequests(mock.URL(), 3), fetch.Request{
		URL:      mock.URL() + "/v2/orgs/org1/members/u99",
		EntityID: "u99",
	})

	registry := errtrack.NewRegistry()
	emails := make(map[string]string)
	w := NewList(newTestBatcher(t, mock), registry, &recordingBackoff{},
		Config{BatchSize: 4, RetryCeiling: 13, Cooldown: time.Millisecond},
		"members", memberCollector(t, emails))

	res := w.Run(context.Background(), reqs)

	if res.OK || res.State != Aborted {
		t.Fatalf("Result = %+v, want abort once only a 404 remains", res)
	}
	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3", res.Processed)
	}
	if got := mock.Requests("/v2/orgs/org1/members/u99"); got != 1 {
		t.Errorf("Missing member requested %d times, want 1", got)
	}
}

func TestList_RateLimitHoldsBeforeNextBatch(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	seedMembers(mock, 6)
	mock.ZeroRemainingNext("/v2/orgs/org1/members/u01", 1)

	backoff := &recordingBackoff{}
	emails := make(map[string]string)
	w := NewList(newTestBatcher(t, mock), errtrack.NewRegistry(), backoff,
		Config{BatchSize: 3, RetryCeiling: 13, Cooldown: time.Millisecond},
		"members", memberCollector(t, emails))

	res := w.Run(context.Background(), memberRequests(mock.URL(), 6))

	if !res.OK || res.Processed != 6 {
		t.Fatalf("Result = %+v, want full success", res)
	}
	if backoff.holdCount() != 1 {
		t.Errorf("Holds = %d, want 1 after the quota-exhausted batch", backoff.holdCount())
	}
}

func TestList_NoRequestsIsExhausted(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	w := NewList(newTestBatcher(t, mock), errtrack.NewRegistry(), &recordingBackoff{},
		Config{BatchSize: 3, RetryCeiling: 13, Cooldown: time.Millisecond},
		"members", func(fetch.Outcome) error { return nil })

	res := w.Run(context.Background(), nil)

	if !res.OK || res.State != Exhausted || res.Processed != 0 {
		t.Errorf("Result = %+v, want empty exhausted success", res)
	}
}
