package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mbd888/callwarden/internal/fraud"
	"github.com/mbd888/callwarden/internal/idgen"
	"github.com/mbd888/callwarden/internal/logging"
	"github.com/mbd888/callwarden/internal/metrics"
	"github.com/mbd888/callwarden/internal/syncutil"
	"github.com/mbd888/callwarden/internal/traces"
)

// Config holds the monitor's hand-tuned alerting constants.
type Config struct {
	// AlertThreshold is the minimum full-context risk score that can raise
	// an escalation alert.
	AlertThreshold float64
	// EscalationDelta is the minimum rise over the previous score that
	// counts as meaningful escalation rather than noise.
	EscalationDelta float64
	// MinContextLen is the accumulated transcript length (in characters,
	// after trimming) below which full-context re-scoring is skipped.
	MinContextLen int
	// ContextTail is how many trailing transcript characters an escalation
	// alert carries as context.
	ContextTail int
}

// DefaultConfig returns the tuned production constants.
func DefaultConfig() Config {
	return Config{
		AlertThreshold:  0.3,
		EscalationDelta: 0.2,
		MinContextLen:   50,
		ContextTail:     200,
	}
}

// Scorer converts a text into a risk result. *fraud.Scorer satisfies this.
type Scorer interface {
	Score(ctx context.Context, text string) *fraud.Result
}

// Sink receives session lifecycle events, alerts, and context-analysis
// snapshots. Delivery is best-effort: a sink error is logged, never applied
// back to session state. Implementations must be safe for concurrent use.
type Sink interface {
	SessionStarted(ctx context.Context, id string, start time.Time) error
	AlertRaised(ctx context.Context, alert Alert) error
	ContextAnalyzed(ctx context.Context, analysis ContextAnalysis) error
	SessionEnded(ctx context.Context, report *Report) error
}

// AuditStore persists alerts and final reports for later review.
// Writes are issued asynchronously and best-effort.
type AuditStore interface {
	RecordAlert(ctx context.Context, alert Alert) error
	RecordReport(ctx context.Context, report *Report) error
}

// Monitor orchestrates per-session fraud tracking: it ingests transcript
// segments, triages each segment, re-scores the accumulated context, raises
// alerts, and finalizes sessions into reports.
//
// Sessions are independent: each operation holds only the target session's
// own lock, so a slow re-score on one call never stalls another. Callers
// waiting on a busy session observe context cancellation.
type Monitor struct {
	cfg    Config
	scorer Scorer
	store  Store
	locks  *syncutil.KeyedMutex
	sink   Sink
	audit  AuditStore
	logger *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithConfig overrides the default alerting constants.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) { m.cfg = cfg }
}

// WithSink sets the event delivery sink.
func WithSink(s Sink) Option {
	return func(m *Monitor) { m.sink = s }
}

// WithAuditStore enables alert and report persistence.
func WithAuditStore(a AuditStore) Option {
	return func(m *Monitor) { m.audit = a }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// New creates a session monitor over the given scorer and store.
func New(scorer Scorer, store Store, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    DefaultConfig(),
		scorer: scorer,
		store:  store,
		locks:  &syncutil.KeyedMutex{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a new active session. If id is empty a fresh identifier is
// generated. Returns the session id.
func (m *Monitor) Start(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = idgen.WithPrefix("call_")
	}

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	s := &Session{
		ID:        id,
		StartTime: time.Now().UTC(),
		Active:    true,
	}
	if err := m.store.Create(s); err != nil {
		return "", err
	}

	metrics.ActiveSessions.Inc()
	logging.L(ctx).Info("session started", "session_id", id)

	if m.sink != nil {
		if err := m.sink.SessionStarted(ctx, id, s.StartTime); err != nil {
			m.logger.Warn("session start delivery failed", "session_id", id, "error", err)
		}
	}
	return id, nil
}

// Ingest applies one transcript segment to a session: appends the text,
// runs keyword triage on the segment alone, then re-scores the full context
// once enough has accumulated. Segments for a session are applied strictly
// in arrival order; empty segments are ignored.
func (m *Monitor) Ingest(ctx context.Context, id string, seg Segment) error {
	if strings.TrimSpace(seg.Text) == "" {
		return nil
	}

	ctx, span := traces.StartSpan(ctx, "monitor.Ingest", traces.SessionID(id), traces.SegmentLength(len(seg.Text)))
	defer span.End()

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if !s.Active {
		return ErrSessionNotFound
	}

	if s.Transcript != "" {
		s.Transcript += " "
	}
	s.Transcript += seg.Text
	metrics.SegmentsIngestedTotal.Inc()

	m.triageSegment(ctx, s, seg)
	m.rescoreContext(ctx, s)
	return nil
}

// End finalizes a session: it takes the report snapshot, removes the session
// from the store, and returns the report. Ending an unknown or already-ended
// session returns ErrSessionNotFound.
func (m *Monitor) End(ctx context.Context, id string) (*Report, error) {
	ctx, span := traces.StartSpan(ctx, "monitor.End", traces.SessionID(id))
	defer span.End()

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	s.Active = false
	report := m.buildReport(s)
	if err := m.store.Remove(id); err != nil {
		return nil, err
	}

	metrics.ActiveSessions.Dec()
	metrics.SessionsEndedTotal.WithLabelValues(report.FinalRiskLevel.String()).Inc()
	logging.L(ctx).Info("session ended",
		"session_id", id,
		"risk_level", report.FinalRiskLevel.String(),
		"risk_score", report.FinalRiskScore,
		"alerts", report.TotalAlerts)

	if m.sink != nil {
		if err := m.sink.SessionEnded(ctx, report); err != nil {
			m.logger.Warn("report delivery failed", "session_id", id, "error", err)
		}
	}
	if m.audit != nil {
		go m.recordReport(report)
	}
	return report, nil
}

// Session returns an owned snapshot of an active session.
func (m *Monitor) Session(ctx context.Context, id string) (*Session, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Sessions returns summaries of every active session. On context
// cancellation it returns the summaries collected so far.
func (m *Monitor) Sessions(ctx context.Context) []SessionInfo {
	ids := m.store.IDs()
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		unlock, err := m.locks.Lock(ctx, id)
		if err != nil {
			break
		}
		s, err := m.store.Get(id)
		if err == nil {
			out = append(out, SessionInfo{
				ID:         s.ID,
				StartTime:  s.StartTime,
				RiskLevel:  s.RiskLevel,
				RiskScore:  s.RiskScore,
				AlertCount: len(s.Alerts),
				Active:     s.Active,
			})
		}
		unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// triageSegment runs the cheap keyword check on the raw segment and raises
// a triage alert for High or Critical hits. Low and Medium results are
// observational only. Caller holds the session lock.
func (m *Monitor) triageSegment(ctx context.Context, s *Session, seg Segment) {
	keywords := DetectKeywords(seg.Text)
	if len(keywords) == 0 {
		return
	}

	severity := TriageSeverity(keywords)
	if severity < SeverityHigh {
		return
	}

	riskScore := 0.7
	if severity == SeverityCritical {
		riskScore = 0.9
	}
	m.raiseAlert(ctx, s, Alert{
		ID:                idgen.WithPrefix("alert_"),
		SessionID:         s.ID,
		Timestamp:         time.Now().UTC(),
		Severity:          severity,
		Type:              AlertKeywordTriage,
		Confidence:        0.8,
		RiskScore:         riskScore,
		Message:           fmt.Sprintf("%s risk: fraud keywords detected", strings.ToUpper(severity.String())),
		TranscriptSegment: seg.Text,
		Indicators:        keywords,
		RecommendedAction: "Immediate attention required: possible scam call",
	})
}

// rescoreContext re-scores the full accumulated transcript once it passes
// the length floor, emits the analysis snapshot, and raises an escalation
// alert when the score jumps meaningfully. Caller holds the session lock.
func (m *Monitor) rescoreContext(ctx context.Context, s *Session) {
	transcript := strings.TrimSpace(s.Transcript)
	if len(transcript) < m.cfg.MinContextLen {
		return
	}

	result := m.scorer.Score(ctx, transcript)

	previous := s.RiskScore
	s.RiskScore = result.RiskScore
	s.RiskLevel = SeverityForScore(result.RiskScore)

	if m.sink != nil {
		analysis := ContextAnalysis{
			SessionID:       s.ID,
			RiskLevel:       s.RiskLevel,
			RiskScore:       result.RiskScore,
			Confidence:      result.Confidence,
			Label:           result.Label,
			KeyIndicators:   head(result.FraudIndicators, 5),
			Recommendation:  result.Recommendation,
			TranscriptWords: len(strings.Fields(transcript)),
			Features:        result.Features,
			PatternMatches:  result.PatternMatches,
			Rationale:       result.Rationale,
			Timestamp:       time.Now().UTC(),
		}
		if err := m.sink.ContextAnalyzed(ctx, analysis); err != nil {
			m.logger.Warn("context analysis delivery failed", "session_id", s.ID, "error", err)
		}
	}

	if result.RiskScore > m.cfg.AlertThreshold && result.RiskScore > previous+m.cfg.EscalationDelta {
		tail := transcript
		if len(tail) > m.cfg.ContextTail {
			cut := len(tail) - m.cfg.ContextTail
			// Never split a multi-byte rune at the cut point.
			for cut < len(tail) && !utf8.RuneStart(tail[cut]) {
				cut++
			}
			tail = tail[cut:]
		}
		m.raiseAlert(ctx, s, Alert{
			ID:                idgen.WithPrefix("alert_"),
			SessionID:         s.ID,
			Timestamp:         time.Now().UTC(),
			Severity:          s.RiskLevel,
			Type:              AlertContextEscalation,
			Confidence:        result.Confidence,
			RiskScore:         result.RiskScore,
			Message:           fmt.Sprintf("Risk escalation detected: %s", result.Label),
			TranscriptSegment: tail,
			Indicators:        head(result.FraudIndicators, 3),
			RecommendedAction: result.Recommendation,
		})
	}
}

// raiseAlert appends the alert to the session, updates metrics, and fires
// delivery and audit. Caller holds the session lock.
func (m *Monitor) raiseAlert(ctx context.Context, s *Session, alert Alert) {
	s.Alerts = append(s.Alerts, alert)
	metrics.AlertsTotal.WithLabelValues(alert.Severity.String(), string(alert.Type)).Inc()
	logging.L(ctx).Warn("fraud alert",
		"session_id", s.ID,
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"type", string(alert.Type),
		"risk_score", alert.RiskScore)

	if m.sink != nil {
		if err := m.sink.AlertRaised(ctx, alert); err != nil {
			m.logger.Warn("alert delivery failed", "session_id", s.ID, "alert_id", alert.ID, "error", err)
		}
	}
	if m.audit != nil {
		go m.recordAlert(alert)
	}
}

func (m *Monitor) recordAlert(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.audit.RecordAlert(ctx, alert); err != nil {
		m.logger.Warn("alert audit write failed", "alert_id", alert.ID, "error", err)
	}
}

func (m *Monitor) recordReport(report *Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.audit.RecordReport(ctx, report); err != nil {
		m.logger.Warn("report audit write failed", "session_id", report.SessionID, "error", err)
	}
}

// buildReport snapshots a session into its final report. Caller holds the
// session lock; the returned value owns all of its data.
func (m *Monitor) buildReport(s *Session) *Report {
	bySeverity := map[Severity]int{
		SeverityLow:      0,
		SeverityMedium:   0,
		SeverityHigh:     0,
		SeverityCritical: 0,
	}
	for _, a := range s.Alerts {
		bySeverity[a.Severity]++
	}

	return &Report{
		SessionID:          s.ID,
		Duration:           time.Since(s.StartTime).Truncate(time.Second).String(),
		FinalTranscript:    strings.TrimSpace(s.Transcript),
		TotalAlerts:        len(s.Alerts),
		FinalRiskLevel:     s.RiskLevel,
		FinalRiskScore:     s.RiskScore,
		AlertsBySeverity:   bySeverity,
		KeyFraudIndicators: topIndicators(s.Alerts, 10),
		Recommendations:    finalRecommendations(s.RiskScore),
		GeneratedAt:        time.Now().UTC(),
	}
}

// topIndicators ranks indicator strings across all alerts by frequency,
// breaking ties by first appearance, and returns at most limit of them.
func topIndicators(alerts []Alert, limit int) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	var order []string
	for _, a := range alerts {
		for _, ind := range a.Indicators {
			if _, ok := counts[ind]; !ok {
				firstSeen[ind] = len(order)
				order = append(order, ind)
			}
			counts[ind]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return firstSeen[order[i]] < firstSeen[order[j]]
	})

	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// finalRecommendations selects the report advice by risk-score bracket.
func finalRecommendations(riskScore float64) []string {
	switch {
	case riskScore >= 0.8:
		return []string{
			"HIGH FRAUD RISK: Immediately hang up and report this call",
			"Do not provide any personal or financial information",
			"Contact the organization directly using official phone numbers",
		}
	case riskScore >= 0.6:
		return []string{
			"SUSPICIOUS CALL: Exercise extreme caution",
			"Verify caller identity through official channels",
			"Do not make immediate decisions or payments",
		}
	case riskScore >= 0.4:
		return []string{
			"POTENTIAL RISK: Stay vigilant during this call",
			"Be cautious about sharing personal information",
		}
	default:
		return []string{
			"LOW RISK: Call appears legitimate but remain cautious",
		}
	}
}

func head(items []string, n int) []string {
	if len(items) <= n {
		return append([]string(nil), items...)
	}
	return append([]string(nil), items[:n]...)
}
