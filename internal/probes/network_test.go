package probes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIPInfo_SkippedWithoutToken(t *testing.T) {
	res := NewIPInfo(ProviderConfig{}).Lookup(context.Background())
	if !res.Skipped {
		t.Error("expected skipped lookup without a token")
	}
}

func TestIPInfo_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			t.Errorf("expected token query parameter, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"ip":"203.0.113.7","org":"AS64500 Example ISP","country":"VN","city":"Hanoi","loc":"21.0,105.8"}`))
	}))
	defer server.Close()

	res := NewIPInfo(ProviderConfig{APIKey: "tok", BaseURL: server.URL}).Lookup(context.Background())
	if res.Error != "" {
		t.Fatalf("unexpected error %q", res.Error)
	}
	if res.IP != "203.0.113.7" || res.ASN != "AS64500" {
		t.Errorf("unexpected geo %+v", res)
	}
	if res.IPVersion() != "IPv4" {
		t.Errorf("expected IPv4, got %q", res.IPVersion())
	}
}

func TestIPAPI_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"2001:db8::1","asn":"AS64501","country_name":"Viet Nam","version":"IPv6"}`))
	}))
	defer server.Close()

	res := NewIPAPI(ProviderConfig{BaseURL: server.URL}).Lookup(context.Background())
	if res.Country != "Viet Nam" || res.Version != "IPv6" {
		t.Errorf("unexpected geo %+v", res)
	}
}

func TestGeoResult_IPVersion(t *testing.T) {
	tests := []struct {
		geo  GeoResult
		want string
	}{
		{GeoResult{IP: "198.51.100.1"}, "IPv4"},
		{GeoResult{IP: "2001:db8::2"}, "IPv6"},
		{GeoResult{IP: "2001:db8::2", Version: "IPv4"}, "IPv4"},
		{GeoResult{}, ""},
	}
	for _, tt := range tests {
		if got := tt.geo.IPVersion(); got != tt.want {
			t.Errorf("IPVersion(%+v) = %q, want %q", tt.geo, got, tt.want)
		}
	}
}

func TestDNSCheck(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		wantOK bool
	}{
		{"healthy", http.StatusOK, `{"Status":0,"Answer":[{"name":"example.com.","type":1,"data":"93.184.215.14"}]}`, true},
		{"nxdomain", http.StatusOK, `{"Status":3}`, false},
		{"empty answer", http.StatusOK, `{"Status":0,"Answer":[]}`, false},
		{"http failure", http.StatusBadGateway, ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("name") != "example.com" {
					t.Errorf("expected example.com lookup, got %q", r.URL.RawQuery)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			res := NewDNSCheck(ProviderConfig{BaseURL: server.URL}).Check(context.Background())
			if res.OK != tt.wantOK {
				t.Errorf("expected ok=%v, got %+v", tt.wantOK, res)
			}
		})
	}
}

func TestCaptivePortal(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantCaptive bool
	}{
		{
			name:        "clean 204",
			handler:     func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
			wantCaptive: false,
		},
		{
			name: "redirect to login",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "http://portal.example/login", http.StatusFound)
			},
			wantCaptive: true,
		},
		{
			name: "200 with splash page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>Welcome to Airport WiFi</html>"))
			},
			wantCaptive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			res := NewCaptivePortal([]string{server.URL + "/generate_204"}, 0).Check(context.Background())
			if res.CaptivePortal != tt.wantCaptive {
				t.Errorf("expected captive=%v, got %+v", tt.wantCaptive, res)
			}
		})
	}
}

func TestCaptivePortal_FallsThroughToSecondEndpoint(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer live.Close()

	res := NewCaptivePortal([]string{deadURL, live.URL}, 0).Check(context.Background())
	if res.Endpoint != live.URL {
		t.Errorf("expected verdict from second endpoint, got %q", res.Endpoint)
	}
	if res.CaptivePortal {
		t.Error("expected no captive portal")
	}
}

func TestCaptivePortal_AllEndpointsFail(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	res := NewCaptivePortal([]string{deadURL}, 0).Check(context.Background())
	if res.CaptivePortal {
		t.Error("unreachable endpoints must not be reported as a captive portal")
	}
	if res.Error == "" {
		t.Error("expected an error diagnostic")
	}
}

func TestAbuseIPDB(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Key") != "abuse-key" {
			t.Errorf("expected Key header, got %q", r.Header.Get("Key"))
		}
		if r.URL.Query().Get("ipAddress") != "203.0.113.7" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":{"abuseConfidenceScore":65,"isp":"Example ISP","totalReports":12}}`))
	}))
	defer server.Close()

	probe := NewAbuseIPDB(ProviderConfig{APIKey: "abuse-key", BaseURL: server.URL})

	res := probe.Check(context.Background(), "203.0.113.7")
	if res.AbuseConfidence != 65 || res.TotalReports != 12 {
		t.Errorf("unexpected result %+v", res)
	}

	if !probe.Check(context.Background(), "").Skipped {
		t.Error("expected skipped lookup without an address")
	}
	if !NewAbuseIPDB(ProviderConfig{BaseURL: server.URL}).Check(context.Background(), "203.0.113.7").Skipped {
		t.Error("expected skipped lookup without a key")
	}
}

func TestSSLLabs_Grade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("host") != DefaultTLSHost {
			t.Errorf("unexpected host %q", r.URL.Query().Get("host"))
		}
		w.Write([]byte(`{"endpoints":[{"grade":"A+"},{"grade":"B"}]}`))
	}))
	defer server.Close()

	res := NewSSLLabs(ProviderConfig{BaseURL: server.URL}, "").Grade(context.Background())
	if res.Grade != "A+" {
		t.Errorf("expected grade A+, got %+v", res)
	}
}
