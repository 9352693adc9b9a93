package monitor

import "strings"

// Triage keyword lists. All entries are lower-case because DetectKeywords
// matches against the lowered segment text. Hand-tuned, read-only,
// process-lifetime.
var triageKeywords = []string{
	"urgent", "immediate", "limited time", "act now", "verify account",
	"suspended", "blocked", "security breach", "unauthorized", "confirm identity",
	"send money", "wire transfer", "gift card", "cryptocurrency", "bitcoin",
	"social security", "bank account", "credit card", "password", "pin",
	"irs", "government agency", "arrest warrant", "legal action", "refund",
	"prize", "lottery", "winner", "congratulations", "inheritance",
}

// Keywords that alone make a segment Critical: account-suspension,
// verification, and impersonation terms.
var criticalKeywords = map[string]struct{}{
	"suspended":        {},
	"blocked":          {},
	"verify account":   {},
	"confirm identity": {},
	"irs":              {},
}

// Keywords that alone make a segment High: money-movement and
// identity-document terms.
var highKeywords = map[string]struct{}{
	"send money":      {},
	"wire transfer":   {},
	"gift card":       {},
	"bitcoin":         {},
	"social security": {},
	"arrest warrant":  {},
}

// DetectKeywords returns the triage keywords contained in text, in catalog
// order. Matching is case-insensitive substring containment.
func DetectKeywords(text string) []string {
	lowered := strings.ToLower(text)
	var found []string
	for _, kw := range triageKeywords {
		if strings.Contains(lowered, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// TriageSeverity classifies a detected keyword set. Any critical keyword
// wins, then any high keyword, then three or more distinct keywords is
// Medium, else Low.
func TriageSeverity(keywords []string) Severity {
	for _, kw := range keywords {
		if _, ok := criticalKeywords[kw]; ok {
			return SeverityCritical
		}
	}
	for _, kw := range keywords {
		if _, ok := highKeywords[kw]; ok {
			return SeverityHigh
		}
	}
	if len(keywords) >= 3 {
		return SeverityMedium
	}
	return SeverityLow
}
