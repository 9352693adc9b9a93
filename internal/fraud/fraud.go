// Package fraud implements calibrated fraud-risk scoring for call transcripts.
//
// Every scored text is evaluated against 3 weighted signals: indicator
// pattern matches, linguistic features, and an optional external text
// classifier. Each signal is capped (0.4 / 0.3 / 0.3) so no single
// subsystem can flip the label on its own. Scores range from 0.0 (safe)
// to 1.0 (high risk).
package fraud

import (
	"context"
	"time"
)

// Label is the categorical verdict for a scored text.
type Label string

const (
	LabelSafe       Label = "Safe"
	LabelSuspicious Label = "Suspicious"
	LabelScam       Label = "Scam"
)

// Label thresholds. Strict greater-than: a score of exactly 0.7 is
// Suspicious, not Scam.
const (
	ScamThreshold       = 0.7
	SuspiciousThreshold = 0.4
)

// Result is the outcome of scoring a single text. Produced fresh by every
// call to Scorer.Score and never mutated afterwards.
type Result struct {
	Label           Label      `json:"label"`
	Confidence      float64    `json:"confidence"`
	RiskScore       float64    `json:"riskScore"`
	Rationale       string     `json:"rationale"`
	Keywords        []string   `json:"keywords"`
	FraudIndicators []string   `json:"fraudIndicators"`
	Features        Features   `json:"linguisticFeatures"`
	PatternMatches  []Category `json:"patternMatches"`
	Recommendation  string     `json:"recommendation"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Prediction is an external classifier's output for a text.
type Prediction struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Confidence returns the probability of the predicted label, falling back
// to the highest probability when the label is missing from the map.
func (p *Prediction) Confidence() float64 {
	if p == nil {
		return 0
	}
	if v, ok := p.Probabilities[p.Label]; ok {
		return v
	}
	var max float64
	for _, v := range p.Probabilities {
		if v > max {
			max = v
		}
	}
	return max
}

// Classifier is the optional external text classifier port. Implementations
// must be safe for concurrent use. A nil Classifier means the scorer runs
// on pattern and linguistic signals alone.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Prediction, error)
}
