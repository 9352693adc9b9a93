package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Callwarden platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// CallwardenClient is a pure HTTP client for the Callwarden platform API.
type CallwardenClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewCallwardenClient creates a new client for the Callwarden platform.
func NewCallwardenClient(cfg Config) *CallwardenClient {
	return &CallwardenClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *CallwardenClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Classify scores a transcript for fraud risk.
func (c *CallwardenClient) Classify(ctx context.Context, text string) (json.RawMessage, error) {
	body := map[string]string{"text": text}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/classify", nil, body)
}

// StartSession begins monitoring a live call.
func (c *CallwardenClient) StartSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var body any
	if sessionID != "" {
		body = map[string]string{"sessionId": sessionID}
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/sessions", nil, body)
}

// IngestSegment feeds a transcript segment into an active session.
func (c *CallwardenClient) IngestSegment(ctx context.Context, sessionID, text string, confidence float64) (json.RawMessage, error) {
	body := map[string]any{"text": text}
	if confidence > 0 {
		body["confidence"] = confidence
	}
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/segments"
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// EndSession stops monitoring and returns the final report.
func (c *CallwardenClient) EndSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// GetSession returns a snapshot of an active session.
func (c *CallwardenClient) GetSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID)
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ListSessions lists all active monitoring sessions.
func (c *CallwardenClient) ListSessions(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/sessions", nil, nil)
}

// RecentAlerts returns the most recent fraud alerts from the audit trail.
func (c *CallwardenClient) RecentAlerts(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/alerts/recent", q, nil)
}
