package walk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mirokit/boardreport/internal/testutil"
	"github.com/mirokit/boardreport/pkg/client"
	"github.com/mirokit/boardreport/pkg/fetch"
)

// recordingBackoff counts cool-down holds instead of sleeping.
type recordingBackoff struct {
	mu    sync.Mutex
	holds []time.Duration
}

func (b *recordingBackoff) Hold(_ context.Context, d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holds = append(b.holds, d)
	return nil
}

func (b *recordingBackoff) WaitIfPaused(context.Context) error {
	return nil
}

func (b *recordingBackoff) holdCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holds)
}

// newTestBatcher wires a real client against the mock API.
func newTestBatcher(t *testing.T, mock *testutil.MockAPI) *fetch.Batcher {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: mock.URL(), Token: "test-token"})
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	return fetch.NewBatcher(c, fetch.Config{Window: 10, Timeout: 5 * time.Second})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Fetching, "fetching"},
		{Retrying, "retrying"},
		{Exhausted, "exhausted"},
		{Aborted, "aborted"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}
