package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Indicator is a client-reported flag sent either as a JSON bool or as a
// descriptive string such as "detected" or "insecure".
type Indicator struct {
	Bool *bool
	Text string
}

// UnmarshalJSON accepts true, false, null or a string.
func (i *Indicator) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*i = Indicator{}
		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		b := data[0] == 't'
		*i = Indicator{Bool: &b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("indicator must be a bool or string: %w", err)
	}
	*i = Indicator{Text: s}
	return nil
}

// MarshalJSON writes the flag back in the form it was received.
func (i Indicator) MarshalJSON() ([]byte, error) {
	if i.Bool != nil {
		return json.Marshal(*i.Bool)
	}
	if i.Text == "" {
		return []byte("null"), nil
	}
	return json.Marshal(i.Text)
}

func (i Indicator) is(b bool, text string) bool {
	return (i.Bool != nil && *i.Bool == b) || i.Text == text
}

// WiFiReport is a user-described network submitted for analysis.
type WiFiReport struct {
	SSID          string    `json:"ssid"`
	Encryption    string    `json:"encryption"`
	DNS           string    `json:"dns"`
	Activity      string    `json:"activity"`
	Certificate   string    `json:"certificate"`
	CaptivePortal Indicator `json:"captivePortal"`
	HTTPTest      Indicator `json:"httpTest"`
}

// WiFiDetails breaks the verdict down per signal.
type WiFiDetails struct {
	DNSStatus         string `json:"dns_status"`
	CertificateStatus string `json:"certificate_status"`
	CaptivePortal     bool   `json:"captive_portal"`
	HTTPSecurity      string `json:"http_security"`
}

// WiFiAssessment is the verdict for a user-described network.
type WiFiAssessment struct {
	SSID                string      `json:"ssid"`
	Encryption          string      `json:"encryption"`
	RiskScore           int         `json:"risk_score"`
	RiskLevel           RiskLevel   `json:"risk_level"`
	PossibleExposedData []string    `json:"possible_exposed_data"`
	DetectionReason     []string    `json:"detection_reason"`
	Recommendation      string      `json:"recommendation"`
	Details             WiFiDetails `json:"details"`
}

// Signal weights.
const (
	encryptionWeight  = 0.4
	wifiDNSWeight     = 0.2
	certificateWeight = 0.2
	captiveWeight     = 0.1
	httpWeight        = 0.1

	sensitiveActivityPoints = 15
	sensitiveActivityCap    = 95
)

const (
	unknownNetwork         = "Unknown Network"
	neutralDetectionReason = "Network security parameters checked"
	noExposure             = "No major data exposure detected"
)

var (
	trustedResolvers    = []string{"8.8.8.8", "1.1.1.1", "8.8.4.4", "1.0.0.1"}
	privateResolverHint = []string{"192.168", "10.0", "172.16"}
	sensitiveActivities = []string{"bank_login", "payment", "crypto"}
	credentialExposure  = []string{"Passwords", "OTPs", "Browsing History", "Account Numbers"}
)

var recommendations = map[RiskLevel]string{
	RiskHigh:   "Avoid using this Wi-Fi for sensitive activities. Use a VPN or mobile data instead.",
	RiskMedium: "Exercise caution when accessing sensitive information. Use a VPN for banking or payments.",
	RiskLow:    "Network appears relatively safe, but always use VPN for sensitive activities.",
}

// AnalyzeWiFi scores a user-described network from its encryption (40%),
// resolver (20%), certificate (20%), captive portal (10%) and HTTP test
// (10%). Sensitive activities add 15 points, capped at 95.
func AnalyzeWiFi(r WiFiReport) WiFiAssessment {
	var (
		score   float64
		reasons []string
		exposed []string
	)

	encryption := normalizeEncryption(r.Encryption)
	encScore := 50.0
	switch encryption {
	case "OPEN":
		encScore = 90
		reasons = append(reasons, "No encryption")
		exposed = append(exposed, credentialExposure...)
	case "WEP":
		encScore = 85
		reasons = append(reasons, "Weak WEP encryption")
		exposed = append(exposed, credentialExposure...)
	case "WPA":
		encScore = 60
		reasons = append(reasons, "Outdated WPA encryption")
		exposed = append(exposed, "Form Data")
	case "WPA2", "WPA3":
		encScore = 20
	}
	score += encScore * encryptionWeight

	dnsStatus, dnsScore := "trusted", 10.0
	switch {
	case r.DNS == "" || r.DNS == "Unknown" || r.DNS == "System DNS":
		dnsStatus, dnsScore = "unknown", 40
		reasons = append(reasons, "DNS server not verified")
		exposed = append(exposed, "DNS Queries")
	case containsAny(r.DNS, privateResolverHint):
		dnsStatus, dnsScore = "suspicious", 75
		reasons = append(reasons, "DNS server not trusted")
		exposed = append(exposed, "DNS Queries", "Phishing Risk")
	case slices.Contains(trustedResolvers, resolverAddress(r.DNS)):
	default:
		dnsStatus, dnsScore = "unknown", 50
		reasons = append(reasons, "DNS server not verified")
	}
	score += dnsScore * wifiDNSWeight

	certStatus, certScore := "unknown", 50.0
	switch r.Certificate {
	case "invalid", "Invalid", "self-signed":
		certStatus, certScore = r.Certificate, 85
		reasons = append(reasons, "Invalid TLS certificate")
		exposed = append(exposed, "Full Data Interception", "Login Credentials", "Banking Details")
	case "valid", "Valid":
		certStatus, certScore = "valid", 10
	}
	score += certScore * certificateWeight

	captive := r.CaptivePortal.is(true, "detected")
	captiveScore := 10.0
	if captive {
		captiveScore = 80
		reasons = append(reasons, "Captive portal detected")
		exposed = append(exposed, "Email/Phone Number", "Registration Data")
	}
	score += captiveScore * captiveWeight

	insecureHTTP := r.HTTPTest.is(false, "insecure")
	httpScore := 20.0
	httpSecurity := "HTTPS detected"
	if insecureHTTP {
		httpScore = 70
		httpSecurity = "HTTP traffic detected"
		reasons = append(reasons, "HTTP traffic detected (non-HTTPS)")
		exposed = append(exposed, "Form Submissions", "Session Cookies")
	}
	score += httpScore * httpWeight

	if slices.Contains(sensitiveActivities, r.Activity) {
		exposed = append(exposed, "Banking Details", "Payment Information")
		score = min(sensitiveActivityCap, score+sensitiveActivityPoints)
		reasons = append(reasons, "Sensitive activity detected")
	}

	level := levelFor(score)
	exposed = dedupe(exposed)
	if len(reasons) == 0 {
		reasons = []string{neutralDetectionReason}
	}
	if len(exposed) == 0 && score < 40 {
		exposed = []string{noExposure}
	}

	ssid := r.SSID
	if ssid == "" {
		ssid = unknownNetwork
	}

	return WiFiAssessment{
		SSID:                ssid,
		Encryption:          encryption,
		RiskScore:           int(math.Floor(score + 0.5)),
		RiskLevel:           level,
		PossibleExposedData: exposed,
		DetectionReason:     reasons,
		Recommendation:      recommendations[level],
		Details: WiFiDetails{
			DNSStatus:         dnsStatus,
			CertificateStatus: certStatus,
			CaptivePortal:     captive,
			HTTPSecurity:      httpSecurity,
		},
	}
}

func normalizeEncryption(enc string) string {
	switch enc {
	case "":
		return "Unknown"
	case "None", "NONE", "Open", "OPEN":
		return "OPEN"
	}
	return enc
}

// resolverAddress strips everything but digits and dots.
func resolverAddress(dns string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, dns)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
