// Package heuristics implements the local, dependency-free risk analyzers for
// URLs and free text.
package heuristics

import "regexp"

// Pattern is a compiled regex remembered with its source text, which is
// surfaced in match reasons.
type Pattern struct {
	Source string
	re     *regexp.Regexp
}

// PatternSet holds compiled regex patterns for one risk tier, in priority order.
type PatternSet struct {
	Name     string
	Patterns []Pattern
}

// compile builds a PatternSet. Panics on invalid patterns (they are
// compile-time constants).
func compile(name string, patterns []string) PatternSet {
	ps := PatternSet{Name: name, Patterns: make([]Pattern, len(patterns))}
	for i, p := range patterns {
		ps.Patterns[i] = Pattern{Source: p, re: regexp.MustCompile(p)}
	}
	return ps
}

// Matches returns the source of every pattern that matches text, in set order.
func (ps *PatternSet) Matches(text string) []string {
	var matched []string
	for _, p := range ps.Patterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.Source)
		}
	}
	return matched
}

// --- Text Patterns ---

// HighRiskPatterns indicate a direct request for credentials or money.
var HighRiskPatterns = compile("high", []string{
	`send\s+otp`,
	`share\s+password`,
	`bank\s+account`,
	`urgent\s+payment`,
	`crypto\s+investment`,
	`suspend\s+your\s+account`,
	`click\s+link\s+to\s+verify`,
})

// MediumRiskPatterns indicate pressure or lure wording.
var MediumRiskPatterns = compile("medium", []string{
	`limited\s+offer`,
	`act\s+now`,
	`confirm\s+identity`,
	`prize|lottery|gift`,
})

// --- URL Patterns ---

// urlPattern finds http(s) URLs in free text. It stops at the first character
// that is not a word character, '-', '.' or a percent escape, so only the
// scheme and host are captured.
var urlPattern = regexp.MustCompile(`https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+`)

// numericHostPattern matches hosts that start with a number followed by a dot
// or dash, e.g. 192.168.0.1 or 123-login.example.
var numericHostPattern = regexp.MustCompile(`^\d+[.-]`)

// RiskyURLKeywords are matched case-insensitively against host+path.
var RiskyURLKeywords = []string{
	"login", "verify", "update", "password", "bank", "gift", "lottery",
	"confirm", "unlock", "suspend", "win", "otp", "credential",
}

// RiskyTextKeywords are reported for any non-safe text.
var RiskyTextKeywords = []string{"otp", "password", "bank", "verify", "payment", "gift", "lottery"}
