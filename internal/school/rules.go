package school

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MatchKind selects how a Rule's Pattern is applied.
type MatchKind string

const (
	// MatchExact compares the whole line after normalization.
	MatchExact MatchKind = "exact"
	// MatchRegexp searches the line with a regular expression.
	MatchRegexp MatchKind = "regexp"
)

// Rule is one row of the noise table: lines without a week reference that
// match it are dropped with Reason.
type Rule struct {
	Match   MatchKind
	Pattern string
	Reason  string
}

// DefaultRules returns the built-in noise table. Bare markers like "Exam"
// or "No homework" recur on class pages week after week and say nothing
// about any particular week; unit-planning index lines are boilerplate.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, 16)
	for _, phrase := range []string{
		"exam", "prov", "test", "quiz", "förhör", "diagnos",
		"läxa", "läxor", "homework",
		"no homework", "ingen läxa", "inga läxor",
	} {
		rules = append(rules, Rule{Match: MatchExact, Pattern: phrase, Reason: "bare marker"})
	}
	rules = append(rules,
		Rule{
			Match:   MatchRegexp,
			Pattern: `(?i)\b(?:lokala? )?pedagogisk(?:a)? planering(?:ar|en|arna)?\b.*\b(?:finns|hittar|hittas|ligger|se)\b`,
			Reason:  "planning index",
		},
		Rule{
			Match:   MatchRegexp,
			Pattern: `(?i)\bunit plan(?:s|ning)?\b.*\b(?:available|found|see|here|posted)\b`,
			Reason:  "planning index",
		},
		Rule{
			Match:   MatchRegexp,
			Pattern: `(?i)^(?:här|se|klicka)\b.*\b(?:planering(?:ar)?|veckobrev)\b`,
			Reason:  "planning index",
		},
	)
	return rules
}

type compiledRule struct {
	re     *regexp.Regexp
	reason string
}

// RuleSet is a compiled noise table, safe for concurrent use.
type RuleSet struct {
	exact    map[string]string
	patterns []compiledRule
}

// CompileRules validates and compiles rules. An empty slice yields an empty
// set that never matches.
func CompileRules(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{exact: make(map[string]string)}
	for i, r := range rules {
		reason := r.Reason
		if reason == "" {
			reason = string(r.Match) + ":" + r.Pattern
		}
		switch r.Match {
		case MatchExact:
			key := normalizePhrase(r.Pattern)
			if key == "" {
				return nil, fmt.Errorf("rule %d: empty exact pattern", i)
			}
			rs.exact[key] = reason
		case MatchRegexp:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			rs.patterns = append(rs.patterns, compiledRule{re: re, reason: reason})
		default:
			return nil, fmt.Errorf("rule %d: unknown match kind %q", i, r.Match)
		}
	}
	return rs, nil
}

// Match returns the drop reason of the first rule matching line.
func (rs *RuleSet) Match(line string) (string, bool) {
	if rs == nil {
		return "", false
	}
	if reason, ok := rs.exact[normalizePhrase(line)]; ok {
		return reason, true
	}
	for _, p := range rs.patterns {
		if p.re.MatchString(line) {
			return p.reason, true
		}
	}
	return "", false
}

// normalizePhrase lowercases, trims and strips trailing punctuation so that
// "Exam", "exam." and " EXAM! " compare equal.
func normalizePhrase(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
