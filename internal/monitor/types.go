// Package monitor tracks fraud risk across live call sessions. Each session
// accumulates transcript segments, gets triaged per segment and re-scored on
// full context, and produces alerts while active and a final report on end.
package monitor

import (
	"fmt"
	"time"

	"github.com/mbd888/callwarden/internal/fraud"
)

// Severity is the alert and session risk level. Totally ordered:
// Low < Medium < High < Critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return "unknown"
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler so Severity serializes by
// name, including as a JSON map key.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityLow || s > SeverityCritical {
		return nil, fmt.Errorf("monitor: invalid severity %d", int(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for i, name := range severityNames {
		if string(text) == name {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("monitor: unknown severity %q", text)
}

// SeverityForScore maps a risk score to a session risk level. Pure and
// stateless; callable independently for display.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertType distinguishes how an alert was produced.
type AlertType string

const (
	// AlertKeywordTriage is raised by the cheap per-segment keyword check.
	AlertKeywordTriage AlertType = "keyword_triage"
	// AlertContextEscalation is raised when the full-context risk score jumps.
	AlertContextEscalation AlertType = "context_escalation"
)

// Alert is a single fraud alert raised during a session. Immutable once
// created; appended to the owning session in chronological order.
type Alert struct {
	ID                string    `json:"alertId"`
	SessionID         string    `json:"sessionId"`
	Timestamp         time.Time `json:"timestamp"`
	Severity          Severity  `json:"severity"`
	Type              AlertType `json:"alertType"`
	Confidence        float64   `json:"confidence"`
	RiskScore         float64   `json:"riskScore"`
	Message           string    `json:"message"`
	TranscriptSegment string    `json:"transcriptSegment"`
	Indicators        []string  `json:"indicators"`
	RecommendedAction string    `json:"recommendedAction"`
}

// Segment is one recognized fragment of speech.
type Segment struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the live state of one monitored call. Owned exclusively by the
// store; mutated only under the session's lock in the monitor.
type Session struct {
	ID         string    `json:"sessionId"`
	StartTime  time.Time `json:"startTime"`
	Transcript string    `json:"accumulatedTranscript"`
	Alerts     []Alert   `json:"alerts"`
	RiskLevel  Severity  `json:"riskLevel"`
	RiskScore  float64   `json:"totalRiskScore"`
	Active     bool      `json:"isActive"`
}

// snapshot returns an owned copy, safe to hand out after the session is
// removed from the store.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.Alerts = append([]Alert(nil), s.Alerts...)
	return &cp
}

// ContextAnalysis is the snapshot emitted after every full-context re-score.
type ContextAnalysis struct {
	SessionID       string           `json:"sessionId"`
	RiskLevel       Severity         `json:"riskLevel"`
	RiskScore       float64          `json:"riskScore"`
	Confidence      float64          `json:"confidence"`
	Label           fraud.Label      `json:"label"`
	KeyIndicators   []string         `json:"keyIndicators"`
	Recommendation  string           `json:"recommendation"`
	TranscriptWords int              `json:"transcriptWords"`
	Features        fraud.Features   `json:"linguisticFeatures"`
	PatternMatches  []fraud.Category `json:"patternMatches"`
	Rationale       string           `json:"rationale"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Report is the final session summary, returned from End as an owned value.
type Report struct {
	SessionID          string           `json:"sessionId"`
	Duration           string           `json:"duration"`
	FinalTranscript    string           `json:"finalTranscript"`
	TotalAlerts        int              `json:"totalAlerts"`
	FinalRiskLevel     Severity         `json:"finalRiskLevel"`
	FinalRiskScore     float64          `json:"finalRiskScore"`
	AlertsBySeverity   map[Severity]int `json:"alertsBySeverity"`
	KeyFraudIndicators []string         `json:"keyFraudIndicators"`
	Recommendations    []string         `json:"recommendations"`
	GeneratedAt        time.Time        `json:"timestamp"`
}
