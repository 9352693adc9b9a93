package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/callwarden/internal/config"
	"github.com/mbd888/callwarden/internal/fraud"
	"github.com/mbd888/callwarden/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubClassifier implements fraud.Classifier for testing
type stubClassifier struct {
	label string
	prob  float64
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (*fraud.Prediction, error) {
	return &fraud.Prediction{
		Label:         s.label,
		Probabilities: map[string]float64{s.label: s.prob},
	}, nil
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		ClassifierTimeout: 5,
		AlertThreshold:    0.3,
		EscalationDelta:   0.2,
		MinContextLen:     50,
		RateLimitRPS:      100,
	}
}

// newTestServer creates a server with in-memory stores and no classifier
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/live", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/ready", "")
	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/api/v1/classify",
		"POST:/api/v1/sessions",
		"GET:/api/v1/sessions",
		"GET:/api/v1/sessions/:id",
		"POST:/api/v1/sessions/:id/segments",
		"DELETE:/api/v1/sessions/:id",
		"GET:/api/v1/alerts/recent",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Classification tests
// ---------------------------------------------------------------------------

func TestClassifyEndpoint_SafeText(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/classify", `{"text":"Hi mom, just calling to say hello."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result fraud.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if result.Label != fraud.LabelSafe {
		t.Errorf("Expected Safe, got %s (score %.3f)", result.Label, result.RiskScore)
	}
}

func TestClassifyEndpoint_ScamWithClassifier(t *testing.T) {
	s := newTestServer(t, WithClassifier(&stubClassifier{label: "Scam", prob: 0.95}))

	body := `{"text":"URGENT! This is the IRS. Your social security number has been suspended. You must verify your account and transfer money immediately or face arrest!"}`
	w := doJSON(s, "POST", "/api/v1/classify", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result fraud.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if result.Label != fraud.LabelScam {
		t.Errorf("Expected Scam, got %s (score %.3f)", result.Label, result.RiskScore)
	}
	if len(result.FraudIndicators) == 0 {
		t.Error("Expected fraud indicators for scam text")
	}
}

func TestClassifyEndpoint_MissingText(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/classify", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}

	var resp struct {
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Details) != 1 || resp.Details[0].Field != "text" {
		t.Errorf("Expected a 'text' field error, got %+v", resp.Details)
	}
}

func TestClassifyEndpoint_WhitespaceOnlyText(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/classify", `{"text":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestClassifyEndpoint_TextTooLong(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(map[string]string{"text": strings.Repeat("a", validation.MaxTranscriptLength+1)})
	if err != nil {
		t.Fatal(err)
	}
	w := doJSON(s, "POST", "/api/v1/classify", string(body))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Session lifecycle tests
// ---------------------------------------------------------------------------

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	// Start
	w := doJSON(s, "POST", "/api/v1/sessions", `{"sessionId":"call_lifecycle"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Ingest a segment
	w = doJSON(s, "POST", "/api/v1/sessions/call_lifecycle/segments",
		`{"text":"hello, how are you today","confidence":0.9}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	// Snapshot
	w = doJSON(s, "GET", "/api/v1/sessions/call_lifecycle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var session map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("Failed to parse session: %v", err)
	}
	if session["accumulatedTranscript"] != "hello, how are you today" {
		t.Errorf("Unexpected transcript: %v", session["accumulatedTranscript"])
	}

	// List
	w = doJSON(s, "GET", "/api/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to parse list: %v", err)
	}
	if list["count"].(float64) != 1 {
		t.Errorf("Expected 1 session, got %v", list["count"])
	}

	// End and get the report
	w = doJSON(s, "DELETE", "/api/v1/sessions/call_lifecycle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to parse report: %v", err)
	}
	if report["sessionId"] != "call_lifecycle" {
		t.Errorf("Unexpected report sessionId: %v", report["sessionId"])
	}
	if report["finalRiskLevel"] != "low" {
		t.Errorf("Expected low final risk, got %v", report["finalRiskLevel"])
	}

	// Session is gone after End
	w = doJSON(s, "GET", "/api/v1/sessions/call_lifecycle", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after end: expected 404, got %d", w.Code)
	}
}

func TestStartSession_GeneratedID(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	id, _ := resp["sessionId"].(string)
	if !strings.HasPrefix(id, "call_") {
		t.Errorf("Expected generated call_ id, got %q", id)
	}
}

func TestStartSession_Duplicate(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/sessions", `{"sessionId":"call_dup"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}

	w = doJSON(s, "POST", "/api/v1/sessions", `{"sessionId":"call_dup"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}

func TestIngestSegment_UnknownSession(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/sessions/call_ghost/segments", `{"text":"hello"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestIngestSegment_MissingText(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "POST", "/api/v1/sessions", `{"sessionId":"call_notext"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}

	w = doJSON(s, "POST", "/api/v1/sessions/call_notext/segments", `{"confidence":0.9}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestSessionIDParam_Invalid(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api/v1/sessions/"+strings.Repeat("x", 200), "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Alert triage through the API
// ---------------------------------------------------------------------------

func TestTriageAlert_VisibleInSession(t *testing.T) {
	s := newTestServer(t)

	doJSON(s, "POST", "/api/v1/sessions", `{"sessionId":"call_triage"}`)

	// "account suspended" is a critical triage keyword
	w := doJSON(s, "POST", "/api/v1/sessions/call_triage/segments",
		`{"text":"your account has been suspended"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(s, "GET", "/api/v1/sessions/call_triage", "")
	var session struct {
		Alerts []map[string]interface{} `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("Failed to parse session: %v", err)
	}
	if len(session.Alerts) == 0 {
		t.Fatal("Expected a triage alert for critical keyword")
	}
	if session.Alerts[0]["severity"] != "critical" {
		t.Errorf("Expected critical severity, got %v", session.Alerts[0]["severity"])
	}
}

func TestRecentAlerts_MemoryFallback(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api/v1/alerts/recent", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["persistent"] != false {
		t.Errorf("Expected persistent=false without a database, got %v", resp["persistent"])
	}
}

func TestRecentAlerts_InvalidLimit(t *testing.T) {
	s := newTestServer(t)

	for _, limit := range []string{"-5", "0", "abc", "10abc", "1.5"} {
		w := doJSON(s, "GET", "/api/v1/alerts/recent?limit="+limit, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%q: expected 400, got %d", limit, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
