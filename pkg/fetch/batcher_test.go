package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mirokit/boardreport/pkg/client"
)

// getterFunc adapts a function to the Getter interface.
type getterFunc func(ctx context.Context, url string) (*client.Response, error)

func (f getterFunc) Get(ctx context.Context, url string) (*client.Response, error) {
	return f(ctx, url)
}

func okResponse() *client.Response {
	return &client.Response{
		StatusCode:    200,
		RateRemaining: client.RateRemainingUnknown,
		Body:          []byte(`{"data":[],"total":0}`),
	}
}

func makeRequests(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{URL: fmt.Sprintf("http://api/page/%d", i), EntityID: "t1"}
	}
	return reqs
}

func TestFetch_RespectsWindowCap(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	getter := getterFunc(func(ctx context.Context, url string) (*client.Response, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return okResponse(), nil
	})

	b := NewBatcher(getter, Config{Window: 3, Timeout: time.Second})
	outcomes := b.Fetch(context.Background(), makeRequests(10))

	if len(outcomes) != 10 {
		t.Fatalf("Expected 10 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if !o.Success() {
			t.Errorf("Outcome %d failed: %v", i, o.Err)
		}
	}
	if maxInFlight > 3 {
		t.Errorf("maxInFlight = %d, want <= 3", maxInFlight)
	}
}

func TestFetch_WindowSettlesBeforeNext(t *testing.T) {
	const window = 2

	var mu sync.Mutex
	completed := 0
	completedAtStart := make(map[string]int)

	getter := getterFunc(func(ctx context.Context, url string) (*client.Response, error) {
		mu.Lock()
		completedAtStart[url] = completed
		mu.Unlock()

		time.Sleep(time.Duration(1+len(url)%3) * time.Millisecond)

		mu.Lock()
		completed++
		mu.Unlock()
		return okResponse(), nil
	})

	b := NewBatcher(getter, Config{Window: window, Timeout: time.Second})
	reqs := makeRequests(6)
	b.Fetch(context.Background(), reqs)

	// A request in window k may only start once all k*window requests of
	// the earlier windows have settled.
	for i, req := range reqs {
		windowIndex := i / window
		if got := completedAtStart[req.URL]; got < windowIndex*window {
			t.Errorf("Request %d started after %d completions, want >= %d",
				i, got, windowIndex*window)
		}
	}
}

func TestFetch_PartialFailureIsolation(t *testing.T) {
	getter := getterFunc(func(ctx context.Context, url string) (*client.Response, error) {
		if strings.HasSuffix(url, "/3") || strings.HasSuffix(url, "/5") || strings.HasSuffix(url, "/8") {
			return nil, &client.APIError{
				URL:           url,
				StatusCode:    500,
				Class:         client.ErrorClassServer,
				RateRemaining: client.RateRemainingUnknown,
			}
		}
		return okResponse(), nil
	})

	b := NewBatcher(getter, Config{Window: 4, Timeout: time.Second})
	reqs := makeRequests(10)
	outcomes := b.Fetch(context.Background(), reqs)

	failures := 0
	for i, o := range outcomes {
		if o.URL != reqs[i].URL {
			t.Errorf("Outcome %d carries URL %q, want %q", i, o.URL, reqs[i].URL)
		}
		if o.Success() {
			continue
		}
		failures++
		if o.Class != client.ErrorClassServer {
			t.Errorf("Outcome %d class = %q, want server", i, o.Class)
		}
		if o.StatusCode != 500 {
			t.Errorf("Outcome %d status = %d, want 500", i, o.StatusCode)
		}
	}
	if failures != 3 {
		t.Errorf("Expected exactly 3 failures, got %d", failures)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	getter := getterFunc(func(ctx context.Context, url string) (*client.Response, error) {
		return okResponse(), nil
	})

	b := NewBatcher(getter, Config{Window: 2, Timeout: time.Second})
	outcomes := b.Fetch(ctx, makeRequests(4))

	for i, o := range outcomes {
		if o.Success() {
			t.Errorf("Outcome %d succeeded despite cancelled context", i)
		}
	}
}

func TestOutcome_RateLimited(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		expected bool
	}{
		{
			name:     "429 failure",
			outcome:  Outcome{Class: client.ErrorClassRateLimit, RateRemaining: client.RateRemainingUnknown},
			expected: true,
		},
		{
			name:     "success with zero remaining quota",
			outcome:  Outcome{RateRemaining: 0},
			expected: true,
		},
		{
			name:     "success with healthy quota",
			outcome:  Outcome{RateRemaining: 55},
			expected: false,
		},
		{
			name:     "server failure without quota info",
			outcome:  Outcome{Class: client.ErrorClassServer, RateRemaining: client.RateRemainingUnknown},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.RateLimited(); got != tt.expected {
				t.Errorf("RateLimited() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestOutcome_Envelope(t *testing.T) {
	o := Outcome{Body: []byte(`{"data":[{"id":"x"}],"total":7,"cursor":"abc"}`)}
	env, err := o.Envelope()
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	if env.Total != 7 || env.Cursor != "abc" || len(env.Data) != 1 {
		t.Errorf("Unexpected envelope: %+v", env)
	}

	bad := Outcome{Body: []byte(`not json`)}
	if _, err := bad.Envelope(); err == nil {
		t.Error("Expected decode error for invalid body")
	}
}
