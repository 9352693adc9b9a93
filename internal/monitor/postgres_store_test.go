package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/callwarden/internal/testutil"
)

func TestPostgresAuditStore_AlertRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAuditStore(db)
	ctx := context.Background()

	alert := Alert{
		ID:                "alert_pg_1",
		SessionID:         "call_pg_1",
		Timestamp:         time.Now().UTC().Truncate(time.Microsecond),
		Severity:          SeverityCritical,
		Type:              AlertKeywordTriage,
		Confidence:        0.8,
		RiskScore:         0.9,
		Message:           "CRITICAL risk: fraud keywords detected",
		TranscriptSegment: "your account has been suspended",
		Indicators:        []string{"suspended", "verify account"},
		RecommendedAction: "Immediate attention required: possible scam call",
	}

	if err := store.RecordAlert(ctx, alert); err != nil {
		t.Fatalf("RecordAlert: %v", err)
	}

	// Conflicting insert on the same alert id is a no-op
	if err := store.RecordAlert(ctx, alert); err != nil {
		t.Fatalf("RecordAlert duplicate: %v", err)
	}

	got, err := store.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}

	a := got[0]
	if a.ID != alert.ID || a.SessionID != alert.SessionID {
		t.Errorf("identity mismatch: %+v", a)
	}
	if a.Severity != SeverityCritical || a.Type != AlertKeywordTriage {
		t.Errorf("severity/type mismatch: %s/%s", a.Severity, a.Type)
	}
	if a.RiskScore != 0.9 || a.Confidence != 0.8 {
		t.Errorf("score mismatch: %.2f/%.2f", a.RiskScore, a.Confidence)
	}
	if len(a.Indicators) != 2 || a.Indicators[0] != "suspended" {
		t.Errorf("indicators mismatch: %v", a.Indicators)
	}
}

func TestPostgresAuditStore_RecentAlertsOrdering(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAuditStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		alert := Alert{
			ID:        "alert_ord_" + string(rune('a'+i)),
			SessionID: "call_ord",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Severity:  SeverityHigh,
			Type:      AlertContextEscalation,
			Message:   "escalation",
		}
		if err := store.RecordAlert(ctx, alert); err != nil {
			t.Fatalf("RecordAlert %d: %v", i, err)
		}
	}

	got, err := store.RecentAlerts(ctx, 3)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(got))
	}
	// Most recent first
	if got[0].ID != "alert_ord_e" || got[2].ID != "alert_ord_c" {
		t.Errorf("unexpected ordering: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestPostgresAuditStore_ReportUpsert(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAuditStore(db)
	ctx := context.Background()

	report := &Report{
		SessionID:       "call_rpt",
		Duration:        "1m30s",
		FinalTranscript: "hello this is a test call",
		TotalAlerts:     1,
		FinalRiskLevel:  SeverityMedium,
		FinalRiskScore:  0.45,
		AlertsBySeverity: map[Severity]int{
			SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 0, SeverityCritical: 0,
		},
		KeyFraudIndicators: []string{"urgency: urgency pressure"},
		Recommendations:    []string{"MEDIUM RISK: Some suspicious indicators", "Verify caller identity through official channels"},
		GeneratedAt:        time.Now().UTC(),
	}

	if err := store.RecordReport(ctx, report); err != nil {
		t.Fatalf("RecordReport: %v", err)
	}

	// Re-recording the same session updates in place
	report.FinalRiskScore = 0.72
	report.FinalRiskLevel = SeverityHigh
	if err := store.RecordReport(ctx, report); err != nil {
		t.Fatalf("RecordReport upsert: %v", err)
	}

	var count int
	var score float64
	var level string
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) OVER (), final_risk_score, final_risk_level FROM reports WHERE session_id = $1`,
		report.SessionID).Scan(&count, &score, &level)
	if err != nil {
		t.Fatalf("query report: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 report row, got %d", count)
	}
	if score != 0.72 || level != "high" {
		t.Errorf("upsert not applied: %.2f %s", score, level)
	}
}
