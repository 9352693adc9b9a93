package fraud

import (
	"strings"
	"unicode"
)

// Features holds the numeric linguistic signals computed from a text.
// Computed fresh per scored text; no persisted identity.
type Features struct {
	WordCount         int     `json:"word_count"`
	SentenceCount     int     `json:"sentence_count"`
	AvgWordLength     float64 `json:"avg_word_length"`
	ExclamationCount  int     `json:"exclamation_count"`
	QuestionCount     int     `json:"question_count"`
	UppercaseRatio    float64 `json:"uppercase_ratio"`
	DigitCount        int     `json:"digit_count"`
	UrgencyWords      int     `json:"urgency_words"`
	MoneyWords        int     `json:"money_words"`
	PersonalInfoWords int     `json:"personal_info_words"`
}

// Fixed closed word lists for category counts. Membership is checked on the
// lower-cased word.
var (
	urgencyWordSet = wordSet("urgent", "emergency", "immediately", "now", "quickly", "hurry")
	moneyWordSet   = wordSet("money", "cash", "dollar", "payment", "transfer", "send", "pay")
	personalSet    = wordSet("ssn", "social", "security", "password", "pin", "account", "number")
)

func wordSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// ExtractFeatures computes linguistic signals from raw text. Pure function:
// no I/O, and total over every input including the empty string.
func ExtractFeatures(text string) Features {
	words := strings.Fields(text)

	var f Features
	f.WordCount = len(words)

	for _, s := range strings.Split(text, ".") {
		if strings.TrimSpace(s) != "" {
			f.SentenceCount++
		}
	}

	if len(words) > 0 {
		total := 0
		for _, w := range words {
			total += len(w)
		}
		f.AvgWordLength = float64(total) / float64(len(words))
	}

	f.ExclamationCount = strings.Count(text, "!")
	f.QuestionCount = strings.Count(text, "?")

	upper := 0
	for _, r := range text {
		if unicode.IsUpper(r) {
			upper++
		}
		if unicode.IsDigit(r) {
			f.DigitCount++
		}
	}
	if n := len([]rune(text)); n > 0 {
		f.UppercaseRatio = float64(upper) / float64(n)
	}

	for _, w := range words {
		lw := strings.ToLower(w)
		if _, ok := urgencyWordSet[lw]; ok {
			f.UrgencyWords++
		}
		if _, ok := moneyWordSet[lw]; ok {
			f.MoneyWords++
		}
		if _, ok := personalSet[lw]; ok {
			f.PersonalInfoWords++
		}
	}

	return f
}
