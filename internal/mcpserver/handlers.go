package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *CallwardenClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *CallwardenClient) *Handlers {
	return &Handlers{client: client}
}

// HandleClassifyTranscript scores a transcript for fraud risk.
func (h *Handlers) HandleClassifyTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	raw, err := h.client.Classify(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Classification failed: %v", err)), nil
	}

	out, err := formatClassification(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	return mcp.NewToolResultText(out), nil
}

// HandleStartSession begins monitoring a live call.
func (h *Handlers) HandleStartSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")

	raw, err := h.client.StartSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start session: %v", err)), nil
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.SessionID == "" {
		return mcp.NewToolResultError("Unexpected response from platform"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Monitoring started.\nSession ID: %s\n\n"+
			"Feed transcript segments with ingest_segment, then call "+
			"end_session_report when the call finishes.", resp.SessionID)), nil
}

// HandleIngestSegment feeds a transcript segment into a session.
func (h *Handlers) HandleIngestSegment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	confidence := req.GetFloat("confidence", 0)

	if _, err := h.client.IngestSegment(ctx, sessionID, text, confidence); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to ingest segment: %v", err)), nil
	}

	// Report back the session's current risk so the LLM sees escalation
	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultText("Segment accepted."), nil
	}

	var session sessionSnapshot
	if err := json.Unmarshal(raw, &session); err != nil {
		return mcp.NewToolResultText("Segment accepted."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Segment accepted. Current risk: %s (%.2f)\n", session.RiskLevel, session.RiskScore)
	if n := len(session.Alerts); n > 0 {
		latest := session.Alerts[n-1]
		fmt.Fprintf(&sb, "Alerts so far: %d. Latest: [%s] %s", n, latest.Severity, latest.Message)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEndSessionReport stops monitoring and formats the final report.
func (h *Handlers) HandleEndSessionReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.EndSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to end session: %v", err)), nil
	}

	out, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}

	return mcp.NewToolResultText(out), nil
}

// HandleGetSession returns a snapshot of an active session.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	out, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}

	return mcp.NewToolResultText(out), nil
}

// HandleListSessions lists active monitoring sessions.
func (h *Handlers) HandleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}

	out, err := formatSessionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse sessions: %v", err)), nil
	}

	return mcp.NewToolResultText(out), nil
}

// HandleRecentAlerts returns recent fraud alerts from the audit trail.
func (h *Handlers) HandleRecentAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.RecentAlerts(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch alerts: %v", err)), nil
	}

	out, err := formatAlertList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alerts: %v", err)), nil
	}

	return mcp.NewToolResultText(out), nil
}

// --- Formatting helpers ---

type alertSummary struct {
	SessionID  string   `json:"sessionId"`
	Severity   string   `json:"severity"`
	Type       string   `json:"alertType"`
	RiskScore  float64  `json:"riskScore"`
	Message    string   `json:"message"`
	Indicators []string `json:"indicators"`
}

type sessionSnapshot struct {
	ID         string         `json:"sessionId"`
	Transcript string         `json:"accumulatedTranscript"`
	Alerts     []alertSummary `json:"alerts"`
	RiskLevel  string         `json:"riskLevel"`
	RiskScore  float64        `json:"totalRiskScore"`
	Active     bool           `json:"isActive"`
}

func formatClassification(raw json.RawMessage) (string, error) {
	var result struct {
		Label           string   `json:"label"`
		Confidence      float64  `json:"confidence"`
		RiskScore       float64  `json:"riskScore"`
		Rationale       string   `json:"rationale"`
		FraudIndicators []string `json:"fraudIndicators"`
		Recommendation  string   `json:"recommendation"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	if result.Label == "" {
		return "", fmt.Errorf("missing label in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", result.Label)
	fmt.Fprintf(&sb, "Risk score: %.3f (confidence %.2f)\n", result.RiskScore, result.Confidence)
	if result.Rationale != "" {
		fmt.Fprintf(&sb, "Rationale: %s\n", result.Rationale)
	}
	if len(result.FraudIndicators) > 0 {
		sb.WriteString("Indicators:\n")
		for _, ind := range result.FraudIndicators {
			fmt.Fprintf(&sb, "  - %s\n", ind)
		}
	}
	if result.Recommendation != "" {
		fmt.Fprintf(&sb, "Recommended action: %s\n", result.Recommendation)
	}
	return sb.String(), nil
}

func formatSession(raw json.RawMessage) (string, error) {
	var s sessionSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if s.ID == "" {
		return "", fmt.Errorf("missing sessionId in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", s.ID)
	fmt.Fprintf(&sb, "Risk: %s (%.2f)\n", s.RiskLevel, s.RiskScore)
	fmt.Fprintf(&sb, "Transcript so far (%d chars):\n%s\n", len(s.Transcript), s.Transcript)
	if len(s.Alerts) > 0 {
		fmt.Fprintf(&sb, "\nAlerts (%d):\n", len(s.Alerts))
		for _, a := range s.Alerts {
			fmt.Fprintf(&sb, "  [%s] %s\n", a.Severity, a.Message)
		}
	}
	return sb.String(), nil
}

func formatSessionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Sessions []struct {
			ID         string  `json:"sessionId"`
			RiskLevel  string  `json:"riskLevel"`
			RiskScore  float64 `json:"riskScore"`
			AlertCount int     `json:"alertCount"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Sessions) == 0 {
		return "No calls are currently being monitored.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Monitoring %d call(s):\n\n", len(resp.Sessions))
	for i, s := range resp.Sessions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s.ID)
		fmt.Fprintf(&sb, "   Risk: %s (%.2f) | Alerts: %d\n", s.RiskLevel, s.RiskScore, s.AlertCount)
	}
	return sb.String(), nil
}

func formatReport(raw json.RawMessage) (string, error) {
	var report struct {
		SessionID          string         `json:"sessionId"`
		Duration           string         `json:"duration"`
		TotalAlerts        int            `json:"totalAlerts"`
		FinalRiskLevel     string         `json:"finalRiskLevel"`
		FinalRiskScore     float64        `json:"finalRiskScore"`
		AlertsBySeverity   map[string]int `json:"alertsBySeverity"`
		KeyFraudIndicators []string       `json:"keyFraudIndicators"`
		Recommendations    []string       `json:"recommendations"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return "", err
	}
	if report.SessionID == "" {
		return "", fmt.Errorf("missing sessionId in report")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Final report for %s\n", report.SessionID)
	fmt.Fprintf(&sb, "Duration: %s\n", report.Duration)
	fmt.Fprintf(&sb, "Risk: %s (%.2f)\n", report.FinalRiskLevel, report.FinalRiskScore)
	fmt.Fprintf(&sb, "Total alerts: %d", report.TotalAlerts)
	if len(report.AlertsBySeverity) > 0 {
		fmt.Fprintf(&sb, " (critical: %d, high: %d, medium: %d, low: %d)",
			report.AlertsBySeverity["critical"],
			report.AlertsBySeverity["high"],
			report.AlertsBySeverity["medium"],
			report.AlertsBySeverity["low"])
	}
	sb.WriteString("\n")
	if len(report.KeyFraudIndicators) > 0 {
		sb.WriteString("\nKey fraud indicators:\n")
		for _, ind := range report.KeyFraudIndicators {
			fmt.Fprintf(&sb, "  - %s\n", ind)
		}
	}
	if len(report.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", rec)
		}
	}
	return sb.String(), nil
}

func formatAlertList(raw json.RawMessage) (string, error) {
	var resp struct {
		Alerts []alertSummary `json:"alerts"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Alerts) == 0 {
		return "No recent alerts.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d recent alert(s):\n\n", len(resp.Alerts))
	for i, a := range resp.Alerts {
		fmt.Fprintf(&sb, "%d. [%s] %s (session %s, score %.2f)\n", i+1, a.Severity, a.Message, a.SessionID, a.RiskScore)
		if len(a.Indicators) > 0 {
			fmt.Fprintf(&sb, "   Indicators: %s\n", strings.Join(a.Indicators, "; "))
		}
	}
	return sb.String(), nil
}
