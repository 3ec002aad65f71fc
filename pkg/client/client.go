// Package client provides the core board API HTTP client with bearer auth,
// response envelope decoding, and failure classification.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardreport_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boardreport_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardreport_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.miro.com"

// RateRemainingUnknown marks responses that carried no rate limit header.
const RateRemainingUnknown = -1

// Client is the board API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// Token is the bearer token used on every request.
	Token string

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Token:   token,
		Timeout: 30 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "api-client").Logger(),
	}, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Response is a successfully received API response.
type Response struct {
	StatusCode int

	// RateRemaining is the value of the X-RateLimit-Remaining header,
	// or RateRemainingUnknown when the header was absent.
	RateRemaining int

	Body []byte
}

// Envelope decodes the response body as a collection envelope.
func (r *Response) Envelope() (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// Get performs an authenticated GET against the given absolute URL.
// Non-2xx responses and transport failures return an *APIError carrying the
// failure class; the caller decides whether the request is worth retrying.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Accept", "application/json")

	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("HTTP request failed")
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			URL:           url,
			Class:         ErrorClassNetwork,
			RateRemaining: RateRemainingUnknown,
			Err:           err,
		}
	}
	defer resp.Body.Close()

	rateRemaining := parseRateRemaining(resp.Header)
	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			URL:           url,
			StatusCode:    resp.StatusCode,
			Class:         ErrorClassNetwork,
			RateRemaining: rateRemaining,
			Err:           fmt.Errorf("read body: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := Classify(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("url", url).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")

		return nil, &APIError{
			URL:           url,
			StatusCode:    resp.StatusCode,
			Class:         class,
			Message:       errorMessage(resp.Status, body),
			RateRemaining: rateRemaining,
		}
	}

	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("rate_remaining", rateRemaining).
		Msg("API request complete")

	return &Response{
		StatusCode:    resp.StatusCode,
		RateRemaining: rateRemaining,
		Body:          body,
	}, nil
}

// parseRateRemaining extracts the remaining rate limit quota from headers.
func parseRateRemaining(headers http.Header) int {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return RateRemainingUnknown
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return RateRemainingUnknown
	}
	return remain
}

// errorMessage prefers the JSON error body message over the bare HTTP status.
func errorMessage(status string, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return status
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
