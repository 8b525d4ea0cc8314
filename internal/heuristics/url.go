package heuristics

import (
	"fmt"
	"net/url"
	"strings"
)

// URLLevel classifies a scanned URL.
type URLLevel string

const (
	URLSafe   URLLevel = "safe"
	URLMedium URLLevel = "medium"
	URLDanger URLLevel = "danger"
)

const (
	// SafeAdvice is shown for URLs scoring below the caution threshold.
	SafeAdvice = "URL appears safe, but always verify before entering credentials."
	// CautionAdvice is shown for every other URL.
	CautionAdvice = "Proceed with caution. Verify the site before entering any information."

	insecureHTTPReason = "Site uses insecure HTTP (no HTTPS)"
)

// Score contributions and thresholds.
const (
	insecureSchemePoints = 40
	keywordPoints        = 5
	keywordCap           = 40
	subdomainPoints      = 10
	numericHostPoints    = 10

	subdomainDots = 4

	safeBelow       = 30
	dangerAtOrAbove = 70
)

// unencryptedSchemes carry traffic in clear text.
var unencryptedSchemes = map[string]bool{
	"http":   true,
	"ftp":    true,
	"ws":     true,
	"telnet": true,
	"gopher": true,
}

// URLAssessment is the local risk verdict for one URL.
type URLAssessment struct {
	URL       string   `json:"url"`
	RiskScore int      `json:"risk_score"`
	Safe      bool     `json:"safe"`
	Level     URLLevel `json:"level"`
	Reason    string   `json:"reason"`
	Reasons   []string `json:"reasons"`
	Advice    string   `json:"advice"`
}

// ScoreURL rates a URL from its scheme, keywords and host shape. Reasons are
// recorded in evaluation order: scheme, keywords, subdomains, numeric host.
// Malformed input yields a fixed medium assessment carrying the parse error.
func ScoreURL(rawURL string) URLAssessment {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return URLAssessment{
			URL:       rawURL,
			RiskScore: 50,
			Safe:      false,
			Level:     URLMedium,
			Reason:    err.Error(),
			Advice:    CautionAdvice,
		}
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	risk := 0
	reasons := []string{}

	if unencryptedSchemes[scheme] {
		risk += insecureSchemePoints
		if scheme == "http" {
			reasons = append(reasons, insecureHTTPReason)
		} else {
			reasons = append(reasons, fmt.Sprintf("Site uses unencrypted %s (no TLS)", strings.ToUpper(scheme)))
		}
	}

	if found := matchKeywords(host + path); len(found) > 0 {
		risk += min(keywordCap, keywordPoints*len(found))
		reasons = append(reasons, "Suspicious keywords in URL: "+strings.Join(found, ", "))
	}

	if strings.Count(host, ".") >= subdomainDots {
		risk += subdomainPoints
		reasons = append(reasons, "Too many subdomains (possible obfuscation)")
	}

	if numericHostPattern.MatchString(host) {
		risk += numericHostPoints
		reasons = append(reasons, "Numeric-looking domain")
	}

	risk = clamp(risk, 0, 100)

	a := URLAssessment{
		URL:       rawURL,
		RiskScore: risk,
		Safe:      risk < safeBelow,
		Reasons:   reasons,
	}
	switch {
	case a.Safe:
		a.Level = URLSafe
		a.Reason = SafeAdvice
		a.Advice = SafeAdvice
	case risk >= dangerAtOrAbove:
		a.Level = URLDanger
	default:
		a.Level = URLMedium
	}
	if !a.Safe {
		a.Advice = CautionAdvice
		a.Reason = "Potential risk detected"
		if len(reasons) > 0 {
			a.Reason = reasons[0]
		}
	}
	return a
}

// matchKeywords returns the risky keywords contained in s, in list order.
func matchKeywords(s string) []string {
	var found []string
	for _, kw := range RiskyURLKeywords {
		if strings.Contains(s, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// ExtractURLs returns the http(s) URLs in text in order of appearance.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
