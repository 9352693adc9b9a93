package fraud

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestNewMatcher_RejectsBadRegex(t *testing.T) {
	_, err := NewMatcher([]Pattern{{Pattern: "(unclosed", IsRegex: true, Weight: 1, Category: CategoryFinancial}})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestNewDefaultMatcher_Compiles(t *testing.T) {
	m := NewDefaultMatcher()
	if len(m.patterns) != len(DefaultPatterns()) {
		t.Fatalf("compiled %d patterns, want %d", len(m.patterns), len(DefaultPatterns()))
	}
}

func TestMatch_NoIndicators(t *testing.T) {
	m := NewDefaultMatcher()
	indicators, weight := m.Match("Hi grandma, the weather was lovely today.")
	if len(indicators) != 0 {
		t.Errorf("expected no indicators, got %v", indicators)
	}
	if weight != 0 {
		t.Errorf("expected zero weight, got %v", weight)
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	m := NewDefaultMatcher()
	lower, lw := m.Match("please transfer money to this account")
	upper, uw := m.Match("PLEASE TRANSFER MONEY TO THIS ACCOUNT")
	if !reflect.DeepEqual(lower, upper) {
		t.Errorf("case changed indicators:\n%v\n%v", lower, upper)
	}
	if lw != uw {
		t.Errorf("case changed weight: %v vs %v", lw, uw)
	}
}

func TestMatch_OverlappingPatternsAllCount(t *testing.T) {
	// "transfer money" hits both the regex "Money transfer request" (2.0)
	// and the literal "transfer" keyword (1.2); plus "money" is counted by
	// features, not the matcher.
	m := NewDefaultMatcher()
	indicators, weight := m.Match("transfer money")

	hasRegex := false
	hasKeyword := false
	for _, ind := range indicators {
		if strings.Contains(ind, "Money transfer request") {
			hasRegex = true
		}
		if strings.Contains(ind, "Money transfer keyword") {
			hasKeyword = true
		}
	}
	if !hasRegex || !hasKeyword {
		t.Fatalf("expected both regex and keyword indicators, got %v", indicators)
	}
	if math.Abs(weight-3.2) > 1e-9 {
		t.Errorf("weight = %v, want 3.2", weight)
	}
}

func TestMatch_IndicatorFormat(t *testing.T) {
	m := NewDefaultMatcher()
	indicators, _ := m.Match("what is your social security number")
	if len(indicators) == 0 {
		t.Fatal("expected indicators")
	}
	for _, ind := range indicators {
		cat, desc, ok := strings.Cut(ind, ": ")
		if !ok || cat == "" || desc == "" {
			t.Errorf("malformed indicator %q", ind)
		}
	}
}

func TestMatch_Deterministic(t *testing.T) {
	m := NewDefaultMatcher()
	text := "URGENT: verify your account, provide the OTP code now"
	i1, w1 := m.Match(text)
	i2, w2 := m.Match(text)
	if !reflect.DeepEqual(i1, i2) || w1 != w2 {
		t.Fatal("same input produced different match results")
	}
}

func TestMatch_LiteralSubstring(t *testing.T) {
	m, err := NewMatcher([]Pattern{{Pattern: "OTP", Weight: 1.8, Category: CategoryVerification, Description: "OTP keyword"}})
	if err != nil {
		t.Fatal(err)
	}
	indicators, _ := m.Match("read me the otp please")
	if len(indicators) != 1 {
		t.Fatalf("expected 1 indicator, got %v", indicators)
	}
}
