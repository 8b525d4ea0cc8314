package deceptions

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Pattern  = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)
	urlPattern   = regexp.MustCompile(`(?i)https?://[^\s]+`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+91[\s-]?)?[6-9]\d{9}\b`)
	idPatterns   = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
		regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`),
	}
)

const unknownThreatSource = "Unknown Source"

// Sanitize scrubs addresses, links and personal identifiers from the free
// text fields of an event and marks it sanitized.
func Sanitize(e Event) Event {
	if e.ThreatSource != "" {
		e.ThreatSource = ScrubText(e.ThreatSource)
		if e.ThreatSource == "" {
			e.ThreatSource = unknownThreatSource
		}
	}
	if e.Summary != "" {
		e.Summary = ScrubText(e.Summary)
	}

	e.Timeline = e.Timeline.clone()
	if step := e.Timeline.AttackerInteraction; step != nil && step.Details != "" {
		step.Details = ScrubText(step.Details)
	}
	if step := e.Timeline.DeceptionDeployed; step != nil && step.Action != "" {
		step.Action = ScrubURLs(step.Action)
	}

	e.Metadata.Sanitized = true
	return e
}

// ScrubText removes IP addresses, URLs, email addresses, phone numbers and
// national identifiers, in that order.
func ScrubText(s string) string {
	s = ipv4Pattern.ReplaceAllString(s, "[IP REMOVED]")
	s = ipv6Pattern.ReplaceAllString(s, "[IP REMOVED]")
	s = ScrubURLs(s)
	s = emailPattern.ReplaceAllString(s, "[EMAIL REMOVED]")
	s = phonePattern.ReplaceAllString(s, "[PHONE REMOVED]")
	for _, re := range idPatterns {
		s = re.ReplaceAllString(s, "[ID REMOVED]")
	}
	return s
}

// ScrubURLs replaces each URL with its last two host labels, or with a
// placeholder when the URL cannot be parsed.
func ScrubURLs(s string) string {
	return urlPattern.ReplaceAllStringFunc(s, func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "[URL REMOVED]"
		}
		labels := strings.Split(strings.ToLower(u.Hostname()), ".")
		if len(labels) > 2 {
			labels = labels[len(labels)-2:]
		}
		return "[" + strings.Join(labels, ".") + " domain]"
	})
}
