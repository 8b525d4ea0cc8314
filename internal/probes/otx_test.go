package probes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Configuration Tests
// =============================================================================

// TestOTX_MissingAPIKey verifies that an unconfigured probe is skipped without
// making a request.
func TestOTX_MissingAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an API key")
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{BaseURL: server.URL})

	res := probe.CheckURL(context.Background(), "https://example.com")
	if res.Status != StatusSkipped {
		t.Errorf("expected status skipped, got %q", res.Status)
	}
	if res.Score != 0 {
		t.Errorf("skipped probe should score 0, got %v", res.Score)
	}
}

// TestOTX_DefaultBaseURL verifies default base URL is set.
func TestOTX_DefaultBaseURL(t *testing.T) {
	probe := NewOTX(ProviderConfig{APIKey: "test-api-key"})

	if probe.config.BaseURL != otxDefaultBaseURL {
		t.Errorf("expected default base URL %q, got %q", otxDefaultBaseURL, probe.config.BaseURL)
	}
	if probe.config.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, probe.config.Timeout)
	}
	if probe.Name() != "otx" {
		t.Errorf("expected name 'otx', got %q", probe.Name())
	}
}

// =============================================================================
// CheckURL Tests
// =============================================================================

// TestOTX_URLFound verifies a pulse hit is reported unsafe.
func TestOTX_URLFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/indicators/url/") {
			t.Errorf("expected url indicator path, got %s", r.URL.Path)
		}
		if r.Header.Get("X-OTX-API-KEY") != "test-api-key" {
			t.Errorf("expected API key header, got %q", r.Header.Get("X-OTX-API-KEY"))
		}

		resp := otxGeneralResponse{
			Indicator: "http://malicious.example/login",
			Type:      "URL",
			PulseInfo: otxPulseInfo{
				Count: 5,
				Pulses: []otxPulse{
					{ID: "pulse-456", Name: "Phishing Campaign", Tags: []string{"phishing", "credential-theft"}},
				},
			},
		}

		w.Header().Set("X-RateLimit-Remaining", "42")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{APIKey: "test-api-key", BaseURL: server.URL})

	res := probe.CheckURL(context.Background(), "http://malicious.example/login")
	if res.Status != StatusUnsafe {
		t.Fatalf("expected status unsafe, got %q (%s)", res.Status, res.Reason)
	}
	if res.Score != 85 {
		t.Errorf("expected score 85 for 5 pulses, got %v", res.Score)
	}
	if res.ThreatType != string(ThreatTypePhishing) {
		t.Errorf("expected threat type phishing, got %q", res.ThreatType)
	}

	rl := probe.RateLimit()
	if rl.Remaining != 42 || rl.Limit != 60 {
		t.Errorf("expected rate limit 42/60, got %d/%d", rl.Remaining, rl.Limit)
	}
}

// TestOTX_NotFound verifies 404 response handling.
func TestOTX_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{APIKey: "test-api-key", BaseURL: server.URL})

	res := probe.CheckURL(context.Background(), "https://example.com")
	if res.Status != StatusSafe {
		t.Errorf("expected status safe on 404, got %q", res.Status)
	}
}

// TestOTX_NoPulses verifies handling when the indicator exists without pulses.
func TestOTX_NoPulses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(otxGeneralResponse{Indicator: "https://example.com"})
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{APIKey: "test-api-key", BaseURL: server.URL})

	res := probe.CheckURL(context.Background(), "https://example.com")
	if res.Status != StatusSafe || res.Score != 0 {
		t.Errorf("expected safe/0, got %q/%v", res.Status, res.Score)
	}
}

// TestOTX_ServerError verifies transient failures are reported as errors.
func TestOTX_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{APIKey: "test-api-key", BaseURL: server.URL})

	res := probe.CheckURL(context.Background(), "https://example.com")
	if res.Status != StatusError {
		t.Fatalf("expected status error, got %q", res.Status)
	}
	if !strings.Contains(res.Reason, "status 500") {
		t.Errorf("reason should mention status code, got: %q", res.Reason)
	}
	if res.Score != 0 {
		t.Errorf("failed probe should score 0, got %v", res.Score)
	}
}

// TestOTX_Unauthorized verifies an invalid key is surfaced in the diagnostic.
func TestOTX_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{APIKey: "invalid-key", BaseURL: server.URL})

	res := probe.CheckURL(context.Background(), "https://example.com")
	if res.Status != StatusError {
		t.Fatalf("expected status error, got %q", res.Status)
	}
	if !strings.Contains(res.Reason, "invalid API key") {
		t.Errorf("reason should mention invalid API key, got: %q", res.Reason)
	}
}

// TestOTX_ContextCanceled verifies a canceled request becomes an error result.
func TestOTX_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	probe := NewOTX(ProviderConfig{APIKey: "test-api-key", BaseURL: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := probe.CheckURL(ctx, "https://example.com")
	if res.Status != StatusError {
		t.Errorf("expected status error on canceled context, got %q", res.Status)
	}
}

// =============================================================================
// Helper Function Tests
// =============================================================================

func TestPulseScore(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0},
		{1, 65},
		{2, 65},
		{3, 75},
		{4, 75},
		{5, 85},
		{9, 85},
		{10, 95},
		{250, 95},
	}

	for _, tt := range tests {
		if got := pulseScore(tt.count); got != tt.want {
			t.Errorf("pulseScore(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestDetermineThreatType(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want ThreatType
	}{
		{"phishing", []string{"Phishing", "bank"}, ThreatTypePhishing},
		{"malware", []string{"malware"}, ThreatTypeMalware},
		{"c2", []string{"command and control"}, ThreatTypeC2},
		{"botnet", []string{"mirai", "botnet"}, ThreatTypeBotnet},
		{"scanner", []string{"mass-scan"}, ThreatTypeScanner},
		{"spam", []string{"spam"}, ThreatTypeSpam},
		{"ransomware", []string{"ransomware", "lockbit"}, ThreatTypeRansomware},
		{"no tags", nil, ThreatTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineThreatType(tt.tags); got != tt.want {
				t.Errorf("determineThreatType(%v) = %q, want %q", tt.tags, got, tt.want)
			}
		})
	}
}
