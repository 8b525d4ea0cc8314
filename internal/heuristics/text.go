package heuristics

import "strings"

// TextLevel classifies analyzed text.
type TextLevel string

const (
	TextSafe   TextLevel = "safe"
	TextMedium TextLevel = "medium"
	TextHigh   TextLevel = "high"
)

// TextAnalysis is the local verdict for a message.
type TextAnalysis struct {
	Level         TextLevel `json:"level"`
	Confidence    int       `json:"confidence"`
	Reason        string    `json:"reason"`
	Advice        string    `json:"advice"`
	RiskyKeywords []string  `json:"risky_keywords"`
}

const (
	noPatternReason = "No risky patterns detected"
	riskyTextAdvice = "Do not share sensitive info. Verify sender and links before acting."
	safeTextAdvice  = "Looks okay, but stay cautious."
)

var confidenceByLevel = map[TextLevel]int{
	TextHigh:   90,
	TextMedium: 70,
	TextSafe:   50,
}

// AnalyzeText matches lower-cased text against the high tier, then the medium
// tier. The highest matching tier wins and its first matching pattern becomes
// the reason.
func AnalyzeText(text string) TextAnalysis {
	lower := strings.ToLower(text)

	level := TextSafe
	var matched []string
	if m := HighRiskPatterns.Matches(lower); len(m) > 0 {
		level, matched = TextHigh, m
	} else if m := MediumRiskPatterns.Matches(lower); len(m) > 0 {
		level, matched = TextMedium, m
	}

	a := TextAnalysis{
		Level:         level,
		Confidence:    confidenceByLevel[level],
		Reason:        noPatternReason,
		Advice:        safeTextAdvice,
		RiskyKeywords: []string{},
	}
	if level != TextSafe {
		a.Reason = "Matched pattern: " + matched[0]
		a.Advice = riskyTextAdvice
		a.RiskyKeywords = append(a.RiskyKeywords, RiskyTextKeywords...)
	}
	return a
}
