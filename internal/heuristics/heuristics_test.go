package heuristics

import (
	"reflect"
	"strings"
	"testing"
)

// =============================================================================
// ScoreURL Tests
// =============================================================================

func TestScoreURL_PhishingExample(t *testing.T) {
	a := ScoreURL("http://login.bank.verify.example.com/confirm")

	if a.RiskScore != 70 {
		t.Errorf("expected score 70, got %d (reasons %v)", a.RiskScore, a.Reasons)
	}
	if a.Level != URLDanger {
		t.Errorf("expected level danger, got %q", a.Level)
	}
	if a.Safe {
		t.Error("expected unsafe verdict")
	}

	want := []string{
		"Site uses insecure HTTP (no HTTPS)",
		"Suspicious keywords in URL: login, verify, bank, confirm",
		"Too many subdomains (possible obfuscation)",
	}
	if !reflect.DeepEqual(a.Reasons, want) {
		t.Errorf("reasons = %q, want %q", a.Reasons, want)
	}
	if a.Reason != want[0] {
		t.Errorf("primary reason should be the first triggered reason, got %q", a.Reason)
	}
	if a.Advice != CautionAdvice {
		t.Errorf("unexpected advice %q", a.Advice)
	}
}

func TestScoreURL_InsecureSchemeAddsExactly40(t *testing.T) {
	for _, path := range []string{"", "/about", "/docs/index.html"} {
		secure := ScoreURL("https://docs.example.org" + path)
		insecure := ScoreURL("http://docs.example.org" + path)

		if insecure.RiskScore-secure.RiskScore != 40 {
			t.Errorf("path %q: http adds %d, want 40", path, insecure.RiskScore-secure.RiskScore)
		}
		if len(insecure.Reasons) == 0 || insecure.Reasons[0] != "Site uses insecure HTTP (no HTTPS)" {
			t.Errorf("path %q: missing insecure-scheme reason: %v", path, insecure.Reasons)
		}
	}

	ftp := ScoreURL("ftp://files.example.org/pub")
	if ftp.RiskScore != 40 || !strings.Contains(ftp.Reasons[0], "FTP") {
		t.Errorf("ftp should be treated as unencrypted, got %d %v", ftp.RiskScore, ftp.Reasons)
	}
}

func TestScoreURL_KeywordsCappedAt40(t *testing.T) {
	a := ScoreURL("https://example.com/login/verify/update/password/bank/gift/lottery/confirm/unlock/suspend")

	if a.RiskScore != 40 {
		t.Errorf("ten keywords should cap at 40, got %d", a.RiskScore)
	}
	if a.Level != URLMedium {
		t.Errorf("expected medium, got %q", a.Level)
	}
}

func TestScoreURL_Levels(t *testing.T) {
	tests := []struct {
		url       string
		wantScore int
		wantLevel URLLevel
	}{
		{"https://example.com", 0, URLSafe},
		{"https://example.com/login", 5, URLSafe},
		{"https://123-secure.example.com", 10, URLSafe},
		{"http://example.com", 40, URLMedium},
		{"http://192.168.10.1/login", 55, URLMedium},
		{"http://a.b.c.d.example.com/login/verify/bank", 65, URLMedium},
		{"HTTP://LOGIN.EXAMPLE.COM/OTP", 50, URLMedium},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			a := ScoreURL(tt.url)
			if a.RiskScore != tt.wantScore || a.Level != tt.wantLevel {
				t.Errorf("got %d/%q, want %d/%q (reasons %v)", a.RiskScore, a.Level, tt.wantScore, tt.wantLevel, a.Reasons)
			}
			if a.RiskScore < 0 || a.RiskScore > 100 {
				t.Errorf("score out of range: %d", a.RiskScore)
			}
		})
	}
}

func TestScoreURL_SafeUsesSafeAdvice(t *testing.T) {
	a := ScoreURL("https://example.com")
	if !a.Safe || a.Reason != SafeAdvice || a.Advice != SafeAdvice {
		t.Errorf("unexpected safe assessment %+v", a)
	}
}

func TestScoreURL_MalformedInput(t *testing.T) {
	a := ScoreURL("http://[::1")

	if a.RiskScore != 50 || a.Level != URLMedium || a.Safe {
		t.Errorf("expected fallback 50/medium/unsafe, got %d/%q/%v", a.RiskScore, a.Level, a.Safe)
	}
	if a.Reason == "" {
		t.Error("fallback should carry the parse error")
	}
}

// =============================================================================
// AnalyzeText Tests
// =============================================================================

func TestAnalyzeText(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantLevel      TextLevel
		wantConfidence int
		wantReason     string
	}{
		{
			name:           "otp request",
			text:           "Please send OTP to confirm your bank account",
			wantLevel:      TextHigh,
			wantConfidence: 90,
			wantReason:     `Matched pattern: send\s+otp`,
		},
		{
			name:           "high beats medium",
			text:           "Act now! Urgent   payment required",
			wantLevel:      TextHigh,
			wantConfidence: 90,
			wantReason:     `Matched pattern: urgent\s+payment`,
		},
		{
			name:           "lure",
			text:           "You won a PRIZE, act now",
			wantLevel:      TextMedium,
			wantConfidence: 70,
			wantReason:     `Matched pattern: act\s+now`,
		},
		{
			name:           "benign",
			text:           "Lunch at noon?",
			wantLevel:      TextSafe,
			wantConfidence: 50,
			wantReason:     "No risky patterns detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeText(tt.text)
			if a.Level != tt.wantLevel || a.Confidence != tt.wantConfidence {
				t.Errorf("got %q/%d, want %q/%d", a.Level, a.Confidence, tt.wantLevel, tt.wantConfidence)
			}
			if a.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", a.Reason, tt.wantReason)
			}
			if tt.wantLevel == TextSafe && len(a.RiskyKeywords) != 0 {
				t.Errorf("safe text should list no keywords, got %v", a.RiskyKeywords)
			}
			if tt.wantLevel != TextSafe && !reflect.DeepEqual(a.RiskyKeywords, RiskyTextKeywords) {
				t.Errorf("risky keywords = %v", a.RiskyKeywords)
			}
		})
	}
}

// =============================================================================
// ExtractURLs Tests
// =============================================================================

func TestExtractURLs(t *testing.T) {
	text := "Verify at http://login.bank.example.com/verify or https://secure-pay.example.net. Also see ftp://x.example"

	got := ExtractURLs(text)
	want := []string{"http://login.bank.example.com", "https://secure-pay.example.net."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractURLs = %q, want %q", got, want)
	}

	if got := ExtractURLs("no links here"); len(got) != 0 {
		t.Errorf("expected no urls, got %q", got)
	}
}
