package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresAuditStore persists alerts and final reports to Postgres.
// Schema is managed by the goose migrations under migrations/.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore wraps an open database handle.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (p *PostgresAuditStore) RecordAlert(ctx context.Context, alert Alert) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alerts (
			alert_id, session_id, created_at, severity, alert_type,
			confidence, risk_score, message, transcript_segment,
			indicators, recommended_action
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (alert_id) DO NOTHING`,
		alert.ID, alert.SessionID, alert.Timestamp, alert.Severity.String(),
		string(alert.Type), alert.Confidence, alert.RiskScore, alert.Message,
		alert.TranscriptSegment, pq.Array(alert.Indicators), alert.RecommendedAction,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (p *PostgresAuditStore) RecordReport(ctx context.Context, report *Report) error {
	bySeverity, err := json.Marshal(report.AlertsBySeverity)
	if err != nil {
		return fmt.Errorf("marshal severity counts: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO reports (
			session_id, created_at, duration, final_transcript, total_alerts,
			final_risk_level, final_risk_score, alerts_by_severity,
			key_fraud_indicators, recommendations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			duration = EXCLUDED.duration,
			final_transcript = EXCLUDED.final_transcript,
			total_alerts = EXCLUDED.total_alerts,
			final_risk_level = EXCLUDED.final_risk_level,
			final_risk_score = EXCLUDED.final_risk_score,
			alerts_by_severity = EXCLUDED.alerts_by_severity,
			key_fraud_indicators = EXCLUDED.key_fraud_indicators,
			recommendations = EXCLUDED.recommendations`,
		report.SessionID, report.GeneratedAt, report.Duration, report.FinalTranscript,
		report.TotalAlerts, report.FinalRiskLevel.String(), report.FinalRiskScore,
		bySeverity, pq.Array(report.KeyFraudIndicators), pq.Array(report.Recommendations),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest persisted alerts, most recent first.
func (p *PostgresAuditStore) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT alert_id, session_id, created_at, severity, alert_type,
		       confidence, risk_score, message, transcript_segment,
		       indicators, recommended_action
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var severity, alertType string
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.Timestamp, &severity, &alertType,
			&a.Confidence, &a.RiskScore, &a.Message, &a.TranscriptSegment,
			pq.Array(&a.Indicators), &a.RecommendedAction,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := a.Severity.UnmarshalText([]byte(severity)); err != nil {
			return nil, err
		}
		a.Type = AlertType(alertType)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
