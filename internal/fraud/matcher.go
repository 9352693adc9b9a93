package fraud

import (
	"fmt"
	"regexp"
	"strings"
)

// compiledPattern pairs a catalog entry with its pre-compiled regex
// (nil for literal patterns).
type compiledPattern struct {
	Pattern
	re *regexp.Regexp
}

// Matcher applies an indicator catalog to texts. Immutable after
// construction and safe for concurrent use.
type Matcher struct {
	patterns []compiledPattern
}

// NewMatcher compiles the given catalog. Regex patterns are compiled
// case-insensitively; literal patterns are stored lower-cased.
func NewMatcher(patterns []Pattern) (*Matcher, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		cp := compiledPattern{Pattern: p}
		if p.IsRegex {
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", p.Pattern, err)
			}
			cp.re = re
		} else {
			cp.Pattern.Pattern = strings.ToLower(p.Pattern)
		}
		compiled = append(compiled, cp)
	}
	return &Matcher{patterns: compiled}, nil
}

// NewDefaultMatcher compiles the built-in catalog. The catalog is static,
// so compilation cannot fail; a failure here is a programming error.
func NewDefaultMatcher() *Matcher {
	m, err := NewMatcher(DefaultPatterns())
	if err != nil {
		panic("fraud: default pattern catalog does not compile: " + err.Error())
	}
	return m
}

// Match returns the matched indicators as "<category>: <description>"
// strings plus the summed weight of every match. No pattern short-circuits
// another: overlapping matches all count. Deterministic for a given text
// and catalog.
func (m *Matcher) Match(text string) (indicators []string, totalWeight float64) {
	lowered := strings.ToLower(text)

	for _, p := range m.patterns {
		matched := false
		if p.re != nil {
			matched = p.re.MatchString(lowered)
		} else {
			matched = strings.Contains(lowered, p.Pattern.Pattern)
		}
		if matched {
			indicators = append(indicators, fmt.Sprintf("%s: %s", p.Category, p.Description))
			totalWeight += p.Weight
		}
	}

	return indicators, totalWeight
}
