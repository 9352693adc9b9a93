// Package classifier calls an external ML classification service over HTTP
// and adapts its responses to the scoring engine's Classifier interface.
//
// The client wraps every call in a retry with exponential backoff and a
// circuit breaker keyed on the service URL, so a dead classifier degrades
// scoring instead of stalling every session.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/callwarden/internal/circuitbreaker"
	"github.com/mbd888/callwarden/internal/fraud"
	"github.com/mbd888/callwarden/internal/logging"
	"github.com/mbd888/callwarden/internal/metrics"
	"github.com/mbd888/callwarden/internal/retry"
)

// ErrCircuitOpen is returned when the breaker is rejecting requests.
var ErrCircuitOpen = fmt.Errorf("classifier: circuit open")

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxAttempts = 3
	defaultBaseDelay   = 200 * time.Millisecond
)

// Client is an HTTP client for an external transcript classifier.
// It implements fraud.Classifier.
type Client struct {
	url         string
	httpClient  *http.Client
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	baseDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRetry overrides the retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// New creates a classifier client for the given service URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Classify sends the transcript text to the external service and returns
// its prediction. Transient failures (network errors, 5xx) are retried;
// 4xx responses are permanent. When the circuit is open the call fails
// fast with ErrCircuitOpen.
func (c *Client) Classify(ctx context.Context, text string) (*fraud.Prediction, error) {
	if !c.breaker.Allow(c.url) {
		metrics.ClassifierRequests.WithLabelValues("circuit_open").Inc()
		return nil, ErrCircuitOpen
	}

	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var pred *fraud.Prediction
	err = retry.Do(ctx, c.maxAttempts, c.baseDelay, func() error {
		p, callErr := c.doRequest(ctx, body)
		if callErr != nil {
			return callErr
		}
		pred = p
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(c.url)
		logging.L(ctx).Warn("classifier request failed", "url", c.url, "error", err)
		return nil, err
	}

	c.breaker.RecordSuccess(c.url)
	return pred, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*fraud.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Permanent(fmt.Errorf("classifier returned %d", resp.StatusCode))
	}

	var cr classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cr); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if cr.Label == "" {
		return nil, retry.Permanent(fmt.Errorf("classifier response missing label"))
	}

	return &fraud.Prediction{
		Label:         cr.Label,
		Probabilities: cr.Probabilities,
	}, nil
}
