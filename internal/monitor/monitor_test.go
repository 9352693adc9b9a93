package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mbd888/callwarden/internal/fraud"
)

// stubScorer returns scripted risk scores in order, repeating the last one
// once the script is exhausted.
type stubScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (s *stubScorer) Score(ctx context.Context, text string) *fraud.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	score := 0.0
	if i >= 0 {
		score = s.scores[i]
	}
	return &fraud.Result{
		Label:           fraud.LabelSuspicious,
		Confidence:      0.6,
		RiskScore:       score,
		FraudIndicators: []string{"urgency: Urgency pressure tactic"},
		Recommendation:  "verify the caller",
		Timestamp:       time.Now().UTC(),
	}
}

func (s *stubScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSink captures every delivered event.
type recordingSink struct {
	mu       sync.Mutex
	started  []string
	alerts   []Alert
	analyses []ContextAnalysis
	reports  []*Report
	fail     bool
}

func (r *recordingSink) SessionStarted(ctx context.Context, id string, start time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) AlertRaised(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) ContextAnalyzed(ctx context.Context, analysis ContextAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, analysis)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) SessionEnded(ctx context.Context, report *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) alertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// Long enough to pass the 50-char context floor without touching any triage
// keyword or scoring word list.
const fillerSegment = "the quick brown fox jumps over the lazy dog while we talk about the weather"

func newTestMonitor(scores []float64, opts ...Option) (*Monitor, *stubScorer, *recordingSink) {
	scorer := &stubScorer{scores: scores}
	sink := &recordingSink{}
	opts = append([]Option{WithSink(sink)}, opts...)
	m := New(scorer, NewMemoryStore(), opts...)
	return m, scorer, sink
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.1})

	id, err := m.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated session id")
	}

	if err := m.Ingest(ctx, id, Segment{Text: "hello there"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	report, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if report.SessionID != id {
		t.Errorf("report session = %q, want %q", report.SessionID, id)
	}
	if report.FinalTranscript != "hello there" {
		t.Errorf("transcript = %q", report.FinalTranscript)
	}
	if len(sink.started) != 1 || len(sink.reports) != 1 {
		t.Errorf("sink events: started=%d reports=%d, want 1/1", len(sink.started), len(sink.reports))
	}

	// Session is gone after End.
	if _, err := m.Session(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after end, got %v", err)
	}
}

func TestStart_DuplicateID(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor(nil)

	if _, err := m.Start(ctx, "call_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(ctx, "call_1"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestIngest_AccumulatesInOrder(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor([]float64{0.1})

	id, _ := m.Start(ctx, "call_order")
	for _, text := range []string{"Hello", "this is urgent", "send bitcoin now"} {
		if err := m.Ingest(ctx, id, Segment{Text: text}); err != nil {
			t.Fatalf("Ingest(%q): %v", text, err)
		}
	}

	s, err := m.Session(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if want := "Hello this is urgent send bitcoin now"; s.Transcript != want {
		t.Errorf("transcript = %q, want %q", s.Transcript, want)
	}
}

func TestIngest_UnknownSession(t *testing.T) {
	m, _, _ := newTestMonitor(nil)
	err := m.Ingest(context.Background(), "missing", Segment{Text: "hello"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngest_EmptySegmentIgnored(t *testing.T) {
	ctx := context.Background()
	m, scorer, _ := newTestMonitor([]float64{0.9})

	id, _ := m.Start(ctx, "call_empty")
	if err := m.Ingest(ctx, id, Segment{Text: "   "}); err != nil {
		t.Fatalf("empty segment should be ignored, got %v", err)
	}

	s, _ := m.Session(ctx, id)
	if s.Transcript != "" {
		t.Errorf("transcript = %q, want empty", s.Transcript)
	}
	if scorer.callCount() != 0 {
		t.Error("scorer should not run for ignored segments")
	}
}

func TestEnd_UnknownSession(t *testing.T) {
	m, _, _ := newTestMonitor(nil)
	if _, err := m.End(context.Background(), "never-started"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEnd_Twice(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor(nil)

	id, _ := m.Start(ctx, "call_twice")
	if _, err := m.End(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.End(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second End should fail with ErrSessionNotFound, got %v", err)
	}
}

func TestTriage_CriticalKeyword(t *testing.T) {
	ctx := context.Background()
	m, scorer, sink := newTestMonitor([]float64{0.1})

	id, _ := m.Start(ctx, "call_triage")
	// Short segment: stays under the context floor, so only triage runs.
	if err := m.Ingest(ctx, id, Segment{Text: "account suspended"}); err != nil {
		t.Fatal(err)
	}

	if scorer.callCount() != 0 {
		t.Error("full-context re-score should not run below the length floor")
	}
	if got := sink.alertCount(); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}

	sink.mu.Lock()
	a := sink.alerts[0]
	sink.mu.Unlock()
	if a.Type != AlertKeywordTriage {
		t.Errorf("alert type = %q, want keyword_triage", a.Type)
	}
	if a.Severity != SeverityCritical {
		t.Errorf("severity = %v, want critical", a.Severity)
	}
	if a.RiskScore != 0.9 {
		t.Errorf("risk score = %v, want 0.9", a.RiskScore)
	}
	if a.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", a.Confidence)
	}
}

func TestTriage_HighKeyword(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.1})

	id, _ := m.Start(ctx, "call_high")
	if err := m.Ingest(ctx, id, Segment{Text: "buy a gift card"}); err != nil {
		t.Fatal(err)
	}

	if got := sink.alertCount(); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
	sink.mu.Lock()
	a := sink.alerts[0]
	sink.mu.Unlock()
	if a.Severity != SeverityHigh || a.RiskScore != 0.7 {
		t.Errorf("got %v/%v, want high/0.7", a.Severity, a.RiskScore)
	}
}

func TestTriage_MediumNotAlerted(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.1})

	id, _ := m.Start(ctx, "call_med")
	// Three distinct keywords, none critical or high: Medium, observational only.
	if err := m.Ingest(ctx, id, Segment{Text: "urgent refund prize"}); err != nil {
		t.Fatal(err)
	}
	if got := sink.alertCount(); got != 0 {
		t.Errorf("alerts = %d, want 0 for medium triage", got)
	}
}

func TestRescore_SkippedBelowFloor(t *testing.T) {
	ctx := context.Background()
	m, scorer, _ := newTestMonitor([]float64{0.9})

	id, _ := m.Start(ctx, "call_floor")
	if err := m.Ingest(ctx, id, Segment{Text: "short text"}); err != nil {
		t.Fatal(err)
	}
	if scorer.callCount() != 0 {
		t.Errorf("scorer ran on %d chars of context", len("short text"))
	}
}

func TestEscalation_SmallDeltaDoesNotAlert(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.25, 0.35, 0.50})

	id, _ := m.Start(ctx, "call_nodelta")
	for i := 0; i < 3; i++ {
		if err := m.Ingest(ctx, id, Segment{Text: fillerSegment}); err != nil {
			t.Fatal(err)
		}
	}

	// 0.25 is under the threshold; 0.35 and 0.50 each rise by less than 0.2.
	if got := sink.alertCount(); got != 0 {
		t.Errorf("alerts = %d, want 0", got)
	}
	if len(sink.analyses) != 3 {
		t.Errorf("analyses = %d, want 3", len(sink.analyses))
	}
}

func TestEscalation_CrossingThresholdAlertsOnce(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.30, 0.55})

	id, _ := m.Start(ctx, "call_esc")
	for i := 0; i < 2; i++ {
		if err := m.Ingest(ctx, id, Segment{Text: fillerSegment}); err != nil {
			t.Fatal(err)
		}
	}

	if got := sink.alertCount(); got != 1 {
		t.Fatalf("alerts = %d, want exactly 1", got)
	}
	sink.mu.Lock()
	a := sink.alerts[0]
	sink.mu.Unlock()
	if a.Type != AlertContextEscalation {
		t.Errorf("alert type = %q, want context_escalation", a.Type)
	}
	if a.RiskScore != 0.55 {
		t.Errorf("risk score = %v, want 0.55", a.RiskScore)
	}
}

func TestEscalation_ContextTailTruncated(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.9})

	id, _ := m.Start(ctx, "call_tail")
	long := strings.Repeat(fillerSegment+" ", 5)
	if err := m.Ingest(ctx, id, Segment{Text: long}); err != nil {
		t.Fatal(err)
	}

	if got := sink.alertCount(); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
	sink.mu.Lock()
	a := sink.alerts[0]
	sink.mu.Unlock()
	if len(a.TranscriptSegment) != 200 {
		t.Errorf("context length = %d, want 200", len(a.TranscriptSegment))
	}
	if !strings.HasSuffix(strings.TrimSpace(long), a.TranscriptSegment[len(a.TranscriptSegment)-10:]) {
		t.Error("context should be the transcript tail")
	}
}

func TestSinkFailureDoesNotCorruptState(t *testing.T) {
	ctx := context.Background()
	scorer := &stubScorer{scores: []float64{0.1}}
	sink := &recordingSink{fail: true}
	m := New(scorer, NewMemoryStore(), WithSink(sink))

	id, err := m.Start(ctx, "call_sinkfail")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Ingest(ctx, id, Segment{Text: "account suspended"}); err != nil {
		t.Fatalf("sink failure must not surface from Ingest: %v", err)
	}

	s, err := m.Session(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Alerts) != 1 {
		t.Errorf("alert should still be recorded, got %d", len(s.Alerts))
	}
}

func TestReport_SeverityCountsAndIndicators(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor([]float64{0.85})

	id, _ := m.Start(ctx, "call_report")
	// Critical triage alert plus a critical escalation alert.
	if err := m.Ingest(ctx, id, Segment{Text: "your account is suspended " + fillerSegment}); err != nil {
		t.Fatal(err)
	}

	report, err := m.End(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalAlerts != 2 {
		t.Fatalf("total alerts = %d, want 2", report.TotalAlerts)
	}
	if len(report.AlertsBySeverity) != 4 {
		t.Errorf("severity map should carry all four levels, got %v", report.AlertsBySeverity)
	}
	if report.AlertsBySeverity[SeverityCritical] != 2 {
		t.Errorf("critical count = %d, want 2", report.AlertsBySeverity[SeverityCritical])
	}
	if report.FinalRiskLevel != SeverityCritical {
		t.Errorf("risk level = %v, want critical", report.FinalRiskLevel)
	}
	if report.FinalRiskScore != 0.85 {
		t.Errorf("risk score = %v, want 0.85", report.FinalRiskScore)
	}
	if len(report.KeyFraudIndicators) == 0 {
		t.Error("expected key indicators")
	}
	if len(report.Recommendations) != 3 {
		t.Errorf("recommendations = %d, want 3 for critical bracket", len(report.Recommendations))
	}
}

func TestReport_PersistedToAudit(t *testing.T) {
	ctx := context.Background()
	audit := NewMemoryAuditStore()
	scorer := &stubScorer{scores: []float64{0.1}}
	m := New(scorer, NewMemoryStore(), WithAuditStore(audit))

	id, _ := m.Start(ctx, "call_audit")
	if err := m.Ingest(ctx, id, Segment{Text: "account suspended"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.End(ctx, id); err != nil {
		t.Fatal(err)
	}

	// Audit writes are async.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(audit.Alerts()) == 1 && len(audit.Reports()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("audit store: alerts=%d reports=%d, want 1/1", len(audit.Alerts()), len(audit.Reports()))
}

func TestConcurrent_EndVsIngest(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor([]float64{0.1})

	id, _ := m.Start(ctx, "call_race")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = m.Ingest(ctx, id, Segment{Text: "hello"})
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = m.End(ctx, id)
	}()
	wg.Wait()

	// After End completes, further ingestion must observe not-found.
	if err := m.Ingest(ctx, id, Segment{Text: "late"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("post-end ingest: got %v, want ErrSessionNotFound", err)
	}
}

func TestConcurrent_IndependentSessions(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor([]float64{0.1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Start(ctx, "")
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			for j := 0; j < 10; j++ {
				_ = m.Ingest(ctx, id, Segment{Text: "hello there"})
			}
			if _, err := m.End(ctx, id); err != nil {
				t.Errorf("End: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(m.Sessions(ctx)); got != 0 {
		t.Errorf("expected empty store, %d sessions remain", got)
	}
}

func TestTopIndicators_FrequencyThenFirstSeen(t *testing.T) {
	alerts := []Alert{
		{Indicators: []string{"a", "b", "c"}},
		{Indicators: []string{"b", "c"}},
		{Indicators: []string{"c"}},
	}
	got := topIndicators(alerts, 10)
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("topIndicators = %v, want %v", got, want)
		}
	}

	if got := topIndicators(alerts, 2); len(got) != 2 {
		t.Errorf("limit not applied: %v", got)
	}
}

func TestSeverityForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.0, SeverityLow},
		{0.39, SeverityLow},
		{0.4, SeverityMedium},
		{0.6, SeverityHigh},
		{0.79, SeverityHigh},
		{0.8, SeverityCritical},
		{1.0, SeverityCritical},
	}
	for _, tt := range tests {
		if got := SeverityForScore(tt.score); got != tt.want {
			t.Errorf("SeverityForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestSeverity_JSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(map[Severity]int{SeverityCritical: 2, SeverityLow: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"critical":2`) {
		t.Errorf("unexpected encoding %s", b)
	}

	var s Severity
	if err := json.Unmarshal([]byte(`"high"`), &s); err != nil {
		t.Fatal(err)
	}
	if s != SeverityHigh {
		t.Errorf("decoded %v, want high", s)
	}

	if err := json.Unmarshal([]byte(`"severe"`), &s); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestDetectKeywords_CaseInsensitive(t *testing.T) {
	got := DetectKeywords("This is the IRS, wire transfer your PIN now")
	want := map[string]bool{"irs": true, "wire transfer": true, "pin": true}
	for _, kw := range got {
		delete(want, kw)
	}
	if len(want) != 0 {
		t.Errorf("missing keywords %v in %v", want, got)
	}
}

func TestTriageSeverity_Rules(t *testing.T) {
	tests := []struct {
		keywords []string
		want     Severity
	}{
		{[]string{"suspended"}, SeverityCritical},
		{[]string{"wire transfer"}, SeverityHigh},
		{[]string{"suspended", "wire transfer"}, SeverityCritical}, // critical wins
		{[]string{"urgent", "refund", "prize"}, SeverityMedium},
		{[]string{"urgent"}, SeverityLow},
		{nil, SeverityLow},
	}
	for _, tt := range tests {
		if got := TriageSeverity(tt.keywords); got != tt.want {
			t.Errorf("TriageSeverity(%v) = %v, want %v", tt.keywords, got, tt.want)
		}
	}
}

// gateScorer blocks inside Score until released, so tests can hold a
// session mid-rescore at a known point.
type gateScorer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateScorer) Score(ctx context.Context, text string) *fraud.Result {
	g.entered <- struct{}{}
	<-g.release
	return &fraud.Result{Label: fraud.LabelSafe, Confidence: 0.5, RiskScore: 0.1}
}

func TestIngest_ContextCancelledWhileSessionBusy(t *testing.T) {
	g := &gateScorer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := New(g, NewMemoryStore())

	id, err := m.Start(context.Background(), "call_busy")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Ingest(context.Background(), id, Segment{Text: strings.Repeat(fillerSegment+" ", 2)})
	}()
	<-g.entered

	// The session lock is held inside the re-score, so a caller with a
	// cancelled context must give up instead of queueing behind it.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Ingest(cancelled, id, Segment{Text: "hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("blocked ingest: %v", err)
	}
}

func TestIngest_SlowRescoreOnlyBlocksItsOwnSession(t *testing.T) {
	ctx := context.Background()
	g := &gateScorer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := New(g, NewMemoryStore())

	slow, _ := m.Start(ctx, "call_slow")
	idle, _ := m.Start(ctx, "call_idle")

	done := make(chan error, 1)
	go func() {
		done <- m.Ingest(ctx, slow, Segment{Text: strings.Repeat(fillerSegment+" ", 2)})
	}()
	<-g.entered

	// A short segment on the other session never reaches the scorer and
	// must complete while the first session is still mid-rescore.
	quick := make(chan error, 1)
	go func() {
		quick <- m.Ingest(ctx, idle, Segment{Text: "hello there"})
	}()
	select {
	case err := <-quick:
		if err != nil {
			t.Fatalf("ingest on idle session: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ingest on an idle session waited behind another session's re-score")
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("blocked ingest: %v", err)
	}
}

func TestEscalation_ContextTailRespectsRuneBoundaries(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestMonitor([]float64{0.9})

	id, _ := m.Start(ctx, "call_runes")
	// 110 three-byte runes: the 200-byte tail cut lands mid-rune.
	text := strings.Repeat("€", 110)
	if err := m.Ingest(ctx, id, Segment{Text: text}); err != nil {
		t.Fatal(err)
	}

	if got := sink.alertCount(); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
	sink.mu.Lock()
	a := sink.alerts[0]
	sink.mu.Unlock()
	if !utf8.ValidString(a.TranscriptSegment) {
		t.Error("escalation context contains invalid UTF-8")
	}
	if len(a.TranscriptSegment) > 200 {
		t.Errorf("context length = %d, want <= 200", len(a.TranscriptSegment))
	}
	if !strings.HasSuffix(text, a.TranscriptSegment) {
		t.Error("context should be a suffix of the transcript")
	}
}
