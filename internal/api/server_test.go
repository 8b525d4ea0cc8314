package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/deceptions"
	"github.com/lvonguyen/fortress/internal/observability"
	"github.com/lvonguyen/fortress/internal/probes"
	"github.com/lvonguyen/fortress/internal/scoring"
)

type fakeFraud struct{ texts []string }

func (f *fakeFraud) Assess(_ context.Context, text string) scoring.FraudAssessment {
	f.texts = append(f.texts, text)
	return scoring.FraudAssessment{FraudScore: 90, RiskLevel: scoring.RiskHigh, ExternalSources: map[string]string{}}
}

type fakeScanner struct{}

func (fakeScanner) Scan(context.Context) scoring.NetworkAssessment {
	return scoring.NetworkAssessment{SSID: "Detected_WiFi", RiskLevel: scoring.RiskMedium, RiskScore: 55}
}

type response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Count     *int            `json:"count"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

func newTestServer(t *testing.T, mutate func(*Config, *Deps)) (*httptest.Server, *Deps) {
	t.Helper()
	cfg := Config{Version: "test"}
	deps := Deps{
		Fraud:      &fakeFraud{},
		Network:    fakeScanner{},
		Deceptions: deceptions.NewService(deceptions.NewMemoryStore(0), nil),
		Usage:      scoring.NewUsage(),
		Metrics:    observability.NewMetrics(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv, &deps
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, response) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

// =============================================================================
// Health Tests
// =============================================================================

func TestAPIHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code, body := do(t, srv, "GET", "/api/health", "")
	if code != http.StatusOK || !body.Success || body.Message != "Fortress API is running" {
		t.Errorf("unexpected health response %d %+v", code, body)
	}
}

func TestReady(t *testing.T) {
	srv, _ := newTestServer(t, func(_ *Config, d *Deps) {
		d.ReadyChecks = map[string]ReadyCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
			"store": func(context.Context) error { return nil },
		}
	})

	resp, err := srv.Client().Get(srv.URL + "/ready")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusServiceUnavailable || out.Status != "not_ready" {
		t.Errorf("status %d %+v", resp.StatusCode, out)
	}
	if out.Checks["store"] != "ok" || out.Checks["redis"] != "connection refused" {
		t.Errorf("checks = %v", out.Checks)
	}
}

// =============================================================================
// Scoring Tests
// =============================================================================

func TestURLScan(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	code, body := do(t, srv, "POST", "/api/url_scan", `{}`)
	if code != http.StatusBadRequest || body.Error != "url is required" {
		t.Errorf("missing url: %d %+v", code, body)
	}

	code, body = do(t, srv, "POST", "/api/url_scan", `{"url":"http://login.bank.verify.example.com/confirm"}`)
	if code != http.StatusOK || !body.Success {
		t.Fatalf("scan: %d %+v", code, body)
	}
	var got struct {
		RiskScore int    `json:"risk_score"`
		Level     string `json:"level"`
	}
	_ = json.Unmarshal(body.Data, &got)
	if got.RiskScore != 70 || got.Level != "danger" {
		t.Errorf("assessment = %+v, want 70 danger", got)
	}
}

func TestDetectFraud(t *testing.T) {
	srv, deps := newTestServer(t, nil)

	code, body := do(t, srv, "POST", "/api/detect_fraud", `not json`)
	if code != http.StatusBadRequest || body.Error != "text is required" {
		t.Errorf("malformed body: %d %+v", code, body)
	}

	code, body = do(t, srv, "POST", "/api/detect_fraud", `{"text":"send OTP now"}`)
	if code != http.StatusOK || !body.Success {
		t.Fatalf("detect: %d %+v", code, body)
	}
	var got scoring.FraudAssessment
	_ = json.Unmarshal(body.Data, &got)
	if got.FraudScore != 90 || got.RiskLevel != scoring.RiskHigh {
		t.Errorf("assessment = %+v", got)
	}
	if texts := deps.Fraud.(*fakeFraud).texts; len(texts) != 1 || texts[0] != "send OTP now" {
		t.Errorf("assessor saw %v", texts)
	}
}

func TestDetectFraudAsync(t *testing.T) {
	srv, deps := newTestServer(t, nil)

	code, body := do(t, srv, "POST", "/api/detect_fraud_async", `{"text":"win a lottery"}`)
	if code != http.StatusOK || !body.Success {
		t.Fatalf("ack: %d %+v", code, body)
	}
	if _, err := uuid.Parse(body.RequestID); err != nil {
		t.Errorf("request_id %q is not a uuid", body.RequestID)
	}
	if len(deps.Fraud.(*fakeFraud).texts) != 0 {
		t.Error("async endpoint must not score the text")
	}
}

func TestFraudStats(t *testing.T) {
	reports := cache.New("url_reports", time.Hour)
	srv, deps := newTestServer(t, func(_ *Config, d *Deps) {
		d.Caches = []*cache.Cache{reports}
	})
	reports.Set(context.Background(), "https://a.example", map[string]int{"x": 1})
	deps.Usage.ObserveProbe(scoring.SourceVirusTotal, probes.StatusSafe, time.Millisecond)

	_, body := do(t, srv, "GET", "/api/fraud_stats", "")
	var got FraudStats
	if err := json.Unmarshal(body.Data, &got); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if got.CacheStats["url_reports"].CachedItems != 1 {
		t.Errorf("cache stats = %+v", got.CacheStats)
	}
	if got.APIUsage[scoring.SourceVirusTotal].Calls != 1 {
		t.Errorf("virustotal usage = %+v", got.APIUsage[scoring.SourceVirusTotal])
	}
	if _, ok := got.APIUsage[scoring.SourcePhishTank]; !ok {
		t.Error("unused probes should be listed with zero calls")
	}
}

// =============================================================================
// Network Tests
// =============================================================================

func TestAutoWiFiScan_BothPaths(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, path := range []string{"/api/auto_wifi_scan", "/auto_wifi_scan"} {
		code, body := do(t, srv, "GET", path, "")
		var got scoring.NetworkAssessment
		_ = json.Unmarshal(body.Data, &got)
		if code != http.StatusOK || got.RiskScore != 55 {
			t.Errorf("%s: %d %+v", path, code, got)
		}
	}
}

func TestWiFiDemo(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	_, body := do(t, srv, "GET", "/api/wifi_scan", "")
	var got wifiDemo
	_ = json.Unmarshal(body.Data, &got)
	if got.SSID != "Unknown" || !got.Secure || got.Recommendation == "" {
		t.Errorf("demo = %+v", got)
	}
}

func TestWiFiScan_Manual(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.Client().Post(srv.URL+"/api/wifi_scan", "application/json",
		strings.NewReader(`{"ssid":"Airport","encryption":"Open","captivePortal":false}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Success   bool   `json:"success"`
		SSID      string `json:"ssid"`
		RiskScore int    `json:"risk_score"`
		RiskLevel string `json:"risk_level"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&got)
	if !got.Success || got.SSID != "Airport" || got.RiskScore != 57 || got.RiskLevel != "Medium" {
		t.Errorf("manual scan = %+v", got)
	}

	code, body := do(t, srv, "POST", "/api/wifi_scan", `{"captivePortal":7}`)
	if code != http.StatusBadRequest || body.Success {
		t.Errorf("invalid indicator: %d %+v", code, body)
	}
}

func TestChatbot(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	_, body := do(t, srv, "POST", "/api/chatbot", `{"message":"is this safe?"}`)
	var got chatReply
	_ = json.Unmarshal(body.Data, &got)
	if got.Echo != "is this safe?" || !strings.Contains(got.Reply, "demo responder") {
		t.Errorf("reply = %+v", got)
	}
}

// =============================================================================
// Deception Tests
// =============================================================================

func TestDeceptions_LogAndFeed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	code, body := do(t, srv, "POST", "/api/deceptions/log",
		`{"title":"Fake bank page","threat_source":"https://login.evil-bank.example.net/x","severity":"High"}`)
	if code != http.StatusOK || !body.Success {
		t.Fatalf("log: %d %+v", code, body)
	}
	var ack logAck
	_ = json.Unmarshal(body.Data, &ack)
	if ack.ID == "" || ack.Status != deceptions.StatusPublished {
		t.Errorf("ack = %+v", ack)
	}

	_, body = do(t, srv, "GET", "/api/deceptions/public?limit=5", "")
	if body.Count == nil || *body.Count != 1 {
		t.Fatalf("count = %v", body.Count)
	}
	var feed []deceptions.PublicEvent
	_ = json.Unmarshal(body.Data, &feed)
	if feed[0].ThreatSource != "[example.net domain]" {
		t.Errorf("feed should be sanitized, got %q", feed[0].ThreatSource)
	}

	code, body = do(t, srv, "GET", "/api/deceptions/"+ack.ID, "")
	if code != http.StatusOK || !body.Success {
		t.Errorf("details: %d %+v", code, body)
	}
}

func TestDeceptions_GetErrors(t *testing.T) {
	store := deceptions.NewMemoryStore(0)
	_ = store.Insert(context.Background(), deceptions.Event{ID: "draft", Status: "draft"})
	srv, _ := newTestServer(t, func(_ *Config, d *Deps) {
		d.Deceptions = deceptions.NewService(store, nil)
	})

	code, body := do(t, srv, "GET", "/api/deceptions/missing", "")
	if code != http.StatusNotFound || body.Message != "Not found" {
		t.Errorf("missing: %d %+v", code, body)
	}
	code, body = do(t, srv, "GET", "/api/deceptions/draft", "")
	if code != http.StatusForbidden || body.Message != "Not published" {
		t.Errorf("draft: %d %+v", code, body)
	}
	code, _ = do(t, srv, "GET", "/api/deceptions/public?limit=ten", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", code)
	}
}

type brokenStore struct{}

func (brokenStore) Name() string                                 { return "broken" }
func (brokenStore) Insert(context.Context, deceptions.Event) error { return errors.New("disk full") }
func (brokenStore) ListPublished(context.Context, int, int) ([]deceptions.Event, error) {
	return nil, errors.New("disk full")
}
func (brokenStore) Get(context.Context, string) (deceptions.Event, error) {
	return deceptions.Event{}, errors.New("disk full")
}

func TestDeceptions_StoreFailures(t *testing.T) {
	srv, _ := newTestServer(t, func(_ *Config, d *Deps) {
		d.Deceptions = deceptions.NewService(brokenStore{}, nil)
	})

	code, body := do(t, srv, "POST", "/api/deceptions/log", `{}`)
	if code != http.StatusInternalServerError || body.Error != "disk full" {
		t.Errorf("log: %d %+v", code, body)
	}
	code, body = do(t, srv, "GET", "/api/deceptions/public", "")
	if code != http.StatusOK || body.Count == nil || *body.Count != 0 {
		t.Errorf("feed: %d %+v", code, body)
	}
	code, body = do(t, srv, "GET", "/api/deceptions/x", "")
	if code != http.StatusInternalServerError || body.Message != "Error" {
		t.Errorf("get: %d %+v", code, body)
	}
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config, _ *Deps) {
		c.CORSOrigins = []string{"chrome-extension://abc"}
	})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/detect_fraud", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "chrome-extension://abc" {
		t.Errorf("allow origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	srv, _ := newTestServer(t, func(_ *Config, d *Deps) {
		d.RateLimiter = NewRateLimiter(nil, 1, time.Minute, nil)
	})

	do(t, srv, "GET", "/api/health", "")
	code, body := do(t, srv, "GET", "/api/health", "")
	if code != http.StatusTooManyRequests || body.Error != rateLimitMessage {
		t.Errorf("second api call: %d %+v", code, body)
	}

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health should not be limited, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	do(t, srv, "GET", "/api/health", "")

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `fortress_http_requests_total{method="GET",path="/api/health",status="200"} 1`) {
		t.Error("request metric not exported with the route pattern")
	}
}
