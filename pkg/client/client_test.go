package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorClass
	}{
		{"429 is rate limit", 429, ErrorClassRateLimit},
		{"404 is client", 404, ErrorClassClient},
		{"400 is client", 400, ErrorClassClient},
		{"500 is server", 500, ErrorClassServer},
		{"503 is server", 503, ErrorClassServer},
		{"200 is unclassified", 200, ErrorClass("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status); got != tt.expected {
				t.Errorf("Classify(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass(""), false},
	}

	for _, tt := range tests {
		if got := Retryable(tt.class); got != tt.expected {
			t.Errorf("Retryable(%q) = %v, want %v", tt.class, got, tt.expected)
		}
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("Expected error for missing token")
	}
}

func TestGet_Success(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-RateLimit-Remaining", "41")
		w.Write([]byte(`{"data":[{"id":"t1","name":"Team One"}],"total":1}`))
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	resp, err := c.Get(context.Background(), server.URL+"/v2/orgs/1/teams")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
	if resp.RateRemaining != 41 {
		t.Errorf("RateRemaining = %d, want 41", resp.RateRemaining)
	}

	env, err := resp.Envelope()
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	if env.Total != 1 || len(env.Data) != 1 {
		t.Errorf("Envelope = total %d with %d items, want 1/1", env.Total, len(env.Data))
	}
}

func TestGet_MissingRateHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[],"total":0}`))
	}))
	defer server.Close()

	c, _ := New(Config{BaseURL: server.URL, Token: "secret"})
	resp, err := c.Get(context.Background(), server.URL+"/v2/boards")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.RateRemaining != RateRemainingUnknown {
		t.Errorf("RateRemaining = %d, want %d", resp.RateRemaining, RateRemainingUnknown)
	}
}

func TestGet_HTTPError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		expectedClass ErrorClass
		expectedMsg   string
	}{
		{
			name:          "429 with message body",
			status:        429,
			body:          `{"message":"too many requests"}`,
			expectedClass: ErrorClassRateLimit,
			expectedMsg:   "too many requests",
		},
		{
			name:          "404 without body",
			status:        404,
			body:          "not json",
			expectedClass: ErrorClassClient,
			expectedMsg:   "404 Not Found",
		},
		{
			name:          "500 server error",
			status:        500,
			body:          `{}`,
			expectedClass: ErrorClassServer,
			expectedMsg:   "500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := New(Config{BaseURL: server.URL, Token: "secret"})
			_, err := c.Get(context.Background(), server.URL+"/v2/boards")
			if err == nil {
				t.Fatal("Expected error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Class != tt.expectedClass {
				t.Errorf("Class = %q, want %q", apiErr.Class, tt.expectedClass)
			}
			if apiErr.Message != tt.expectedMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.expectedMsg)
			}
		})
	}
}

func TestGet_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	c, _ := New(Config{BaseURL: server.URL, Token: "secret"})
	_, err := c.Get(context.Background(), server.URL+"/v2/boards")
	if err == nil {
		t.Fatal("Expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want %q", apiErr.Class, ErrorClassNetwork)
	}
}

func TestDecodeBoards(t *testing.T) {
	env := &Envelope{}
	raw := []byte(`{"data":[{"id":"b1","name":"Board","team":{"id":"t1","name":"Team"},"owner":{"id":"u1"}}],"total":1}`)
	if err := json.Unmarshal(raw, env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}

	boards, err := DecodeBoards(env.Data)
	if err != nil {
		t.Fatalf("DecodeBoards failed: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("Expected 1 board, got %d", len(boards))
	}

	b := boards[0]
	if b.ID != "b1" || b.Team.ID != "t1" || b.Team.Name != "Team" || b.Owner.ID != "u1" {
		t.Errorf("Unexpected board decode: %+v", b)
	}
}
