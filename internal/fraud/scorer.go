package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mbd888/callwarden/internal/metrics"
	"github.com/mbd888/callwarden/internal/traces"
)

// Signal caps. Each subsystem's contribution to the composite score is
// bounded so none can dominate: a single high-weight keyword cannot push a
// long benign transcript past a threshold, and an external model cannot
// flip the score on its own.
const (
	maxPatternScore    = 0.4
	patternWeightScale = 10.0
	maxLinguisticScore = 0.3
	mlWeight           = 0.3
)

// Linguistic score increments.
const (
	urgencyIncrement      = 0.05
	moneyIncrement        = 0.10
	personalInfoIncrement = 0.15
	exclamationIncrement  = 0.05
	uppercaseIncrement    = 0.05

	exclamationFloor = 2   // increments only when count > 2
	uppercaseFloor   = 0.3 // increments only when ratio > 0.3
)

// Fixed recommendation templates, selected purely from the final label and
// score bracket.
const (
	recommendHigh = "HIGH RISK: This appears to be a scam call. Do NOT provide personal information, " +
		"money, or access to your devices. Hang up immediately and report the call."
	recommendMedium = "SUSPICIOUS: This call shows warning signs. Be cautious, verify the caller's " +
		"identity independently, and avoid sharing sensitive information."
	recommendLow = "SAFE: This call appears legitimate, but always verify caller identity " +
		"for sensitive requests."
	recommendUnavailable = "Unable to analyze call. Please use caution."
)

// Scorer converts a block of text into a calibrated risk score, label, and
// explanation. Stateless and safe for concurrent use.
type Scorer struct {
	matcher    *Matcher
	classifier Classifier
	logger     *slog.Logger
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithClassifier injects an external text classifier. Classifier failures
// degrade the score to pattern+linguistic signals only.
func WithClassifier(c Classifier) ScorerOption {
	return func(s *Scorer) { s.classifier = c }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ScorerOption {
	return func(s *Scorer) { s.logger = logger }
}

// NewScorer creates a scorer over the given pattern matcher.
func NewScorer(matcher *Matcher, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		matcher: matcher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates a text and always returns a well-formed result. Any
// internal failure is caught at this boundary and converted to a Safe,
// low-confidence result naming the failure; scoring never propagates an
// error into the callers' hot path.
func (s *Scorer) Score(ctx context.Context, text string) (result *Result) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "fraud.Score")
	defer span.End()

	defer func() {
		metrics.ScoringDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			s.logger.Error("scoring panic recovered", "panic", r)
			result = fallbackResult(fmt.Sprintf("scoring failure: %v", r))
		}
		if result != nil {
			span.SetAttributes(traces.RiskLabel(string(result.Label)), traces.RiskScore(result.RiskScore))
		}
	}()

	features := ExtractFeatures(text)
	indicators, patternWeight := s.matcher.Match(text)

	patternScore := math.Min(maxPatternScore, patternWeight/patternWeightScale)
	linguisticScore := linguisticScore(features)

	var mlScore float64
	var pred *Prediction
	if s.classifier != nil {
		var err error
		pred, err = s.classifier.Classify(ctx, text)
		if err != nil {
			// Degrade, never fail: the composite falls back to
			// pattern+linguistic signals.
			s.logger.Warn("external classifier unavailable", "error", err)
			metrics.ClassifierRequests.WithLabelValues("error").Inc()
			pred = nil
		} else {
			metrics.ClassifierRequests.WithLabelValues("ok").Inc()
			mlScore = pred.Probabilities[string(LabelScam)] * mlWeight
		}
	}

	riskScore := math.Min(1.0, patternScore+linguisticScore+mlScore)

	label, confidence := labelForScore(riskScore)

	// The external model may override the label when it is more confident,
	// but never the composite score itself.
	if pred != nil {
		if mlConf := pred.Confidence(); mlConf > confidence {
			if override, ok := parseLabel(pred.Label); ok {
				label = override
				confidence = math.Min(0.95, mlConf)
			}
		}
	}

	return &Result{
		Label:           label,
		Confidence:      round3(confidence),
		RiskScore:       round3(riskScore),
		Rationale:       rationale(indicators),
		Keywords:        keywordsFrom(indicators),
		FraudIndicators: indicators,
		Features:        features,
		PatternMatches:  categoriesFrom(indicators),
		Recommendation:  recommendation(label, riskScore),
		Timestamp:       time.Now().UTC(),
	}
}

func linguisticScore(f Features) float64 {
	score := 0.0
	if f.UrgencyWords > 0 {
		score += urgencyIncrement
	}
	if f.MoneyWords > 0 {
		score += moneyIncrement
	}
	if f.PersonalInfoWords > 0 {
		score += personalInfoIncrement
	}
	if f.ExclamationCount > exclamationFloor {
		score += exclamationIncrement
	}
	if f.UppercaseRatio > uppercaseFloor {
		score += uppercaseIncrement
	}
	return math.Min(maxLinguisticScore, score)
}

// labelForScore maps a composite score to a label and the pattern-derived
// confidence. Thresholds are strict: exactly 0.7 is Suspicious.
func labelForScore(riskScore float64) (Label, float64) {
	switch {
	case riskScore > ScamThreshold:
		return LabelScam, math.Min(0.95, 0.7+(riskScore-ScamThreshold)*0.5)
	case riskScore > SuspiciousThreshold:
		return LabelSuspicious, 0.6 + (riskScore-SuspiciousThreshold)*0.3
	default:
		return LabelSafe, math.Max(0.3, 1.0-riskScore)
	}
}

func parseLabel(s string) (Label, bool) {
	switch Label(s) {
	case LabelSafe, LabelSuspicious, LabelScam:
		return Label(s), true
	default:
		return "", false
	}
}

func rationale(indicators []string) string {
	if len(indicators) == 0 {
		return "No significant fraud indicators detected."
	}
	shown := indicators
	if len(shown) > 3 {
		shown = shown[:3]
	}
	r := fmt.Sprintf("Detected %d fraud indicators: %s", len(indicators), strings.Join(shown, ", "))
	if rest := len(indicators) - 3; rest > 0 {
		r += fmt.Sprintf(" and %d more.", rest)
	}
	return r
}

func recommendation(label Label, riskScore float64) string {
	switch {
	case label == LabelScam || riskScore > ScamThreshold:
		return recommendHigh
	case label == LabelSuspicious || riskScore > SuspiciousThreshold:
		return recommendMedium
	default:
		return recommendLow
	}
}

// keywordsFrom extracts the description half of each indicator string.
func keywordsFrom(indicators []string) []string {
	keywords := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		if _, desc, ok := strings.Cut(ind, ": "); ok {
			keywords = append(keywords, desc)
		}
	}
	return keywords
}

// categoriesFrom extracts the category half of each indicator string.
func categoriesFrom(indicators []string) []Category {
	cats := make([]Category, 0, len(indicators))
	for _, ind := range indicators {
		if cat, _, ok := strings.Cut(ind, ": "); ok {
			cats = append(cats, Category(cat))
		}
	}
	return cats
}

// fallbackResult is returned when scoring itself fails. Callers always
// receive a well-formed, conservative result.
func fallbackResult(reason string) *Result {
	return &Result{
		Label:          LabelSafe,
		Confidence:     0.3,
		RiskScore:      0.0,
		Rationale:      reason,
		Keywords:       []string{},
		Recommendation: recommendUnavailable,
		Timestamp:      time.Now().UTC(),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
