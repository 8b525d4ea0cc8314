package probes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultNetworkTimeout bounds every network telemetry call.
const DefaultNetworkTimeout = 1800 * time.Millisecond

// GeoResult describes the public egress address of the current network.
type GeoResult struct {
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	IP       string `json:"ip,omitempty"`
	ASN      string `json:"asn,omitempty"`
	Org      string `json:"org,omitempty"`
	Network  string `json:"network,omitempty"`
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Loc      string `json:"loc,omitempty"`
	Version  string `json:"version,omitempty"`
}

// IPVersion returns "IPv4" or "IPv6". The reported version wins; otherwise
// it is derived from the address.
func (g GeoResult) IPVersion() string {
	if g.Version != "" {
		return g.Version
	}
	addr, err := netip.ParseAddr(g.IP)
	if err != nil {
		return ""
	}
	if addr.Is4() || addr.Is4In6() {
		return "IPv4"
	}
	return "IPv6"
}

// DNSResult reports whether the public resolver answered a known name.
type DNSResult struct {
	Resolver    string `json:"resolver"`
	OK          bool   `json:"ok"`
	Status      int    `json:"status"`
	AnswerCount int    `json:"answer_count"`
	Error       string `json:"error,omitempty"`
}

// CaptivePortalResult reports whether connectivity checks are intercepted.
type CaptivePortalResult struct {
	Endpoint      string `json:"endpoint"`
	Status        int    `json:"status,omitempty"`
	CaptivePortal bool   `json:"captive_portal"`
	Error         string `json:"error,omitempty"`
}

// AbuseResult is the AbuseIPDB reputation of the public address.
type AbuseResult struct {
	Skipped         bool   `json:"skipped,omitempty"`
	Error           string `json:"error,omitempty"`
	AbuseConfidence int    `json:"abuse_confidence"`
	ISP             string `json:"isp,omitempty"`
	Country         string `json:"country,omitempty"`
	Domain          string `json:"domain,omitempty"`
	TotalReports    int    `json:"total_reports"`
}

// TLSResult is the cached SSL Labs grade of a well-known host.
type TLSResult struct {
	Host  string `json:"host"`
	Grade string `json:"grade,omitempty"`
	Error string `json:"error,omitempty"`
}

func withNetworkDefaults(cfg ProviderConfig, baseURL string) ProviderConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNetworkTimeout
	}
	return cfg.withDefaults(baseURL)
}

// =============================================================================
// Geolocation
// =============================================================================

// IPInfo resolves the public address through ipinfo.io. It requires a token.
type IPInfo struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewIPInfo creates an ipinfo.io lookup.
func NewIPInfo(config ProviderConfig) *IPInfo {
	config = withNetworkDefaults(config, "https://ipinfo.io")
	return &IPInfo{config: config, httpClient: newHTTPClient(config.Timeout)}
}

// Lookup returns the geolocation of the caller's public address.
func (p *IPInfo) Lookup(ctx context.Context) GeoResult {
	if p.config.APIKey == "" {
		return GeoResult{Skipped: true}
	}

	req, err := newRequest(ctx, p.config, http.MethodGet, "/json?token="+url.QueryEscape(p.config.APIKey), nil)
	if err != nil {
		return GeoResult{Error: err.Error()}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return GeoResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoResult{Error: fmt.Sprintf("ipinfo status %d", resp.StatusCode)}
	}

	var info struct {
		IP       string `json:"ip"`
		Org      string `json:"org"`
		Country  string `json:"country"`
		Region   string `json:"region"`
		City     string `json:"city"`
		Timezone string `json:"timezone"`
		Loc      string `json:"loc"`
	}
	if err := decodeJSON(resp, &info); err != nil {
		return GeoResult{Error: err.Error()}
	}

	// org is reported as "AS<number> <ISP name>"
	asn, _, _ := strings.Cut(info.Org, " ")
	return GeoResult{
		IP:       info.IP,
		ASN:      asn,
		Org:      info.Org,
		Country:  info.Country,
		Region:   info.Region,
		City:     info.City,
		Timezone: info.Timezone,
		Loc:      info.Loc,
	}
}

// IPAPI resolves the public address through the keyless ipapi.co service.
type IPAPI struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewIPAPI creates an ipapi.co lookup.
func NewIPAPI(config ProviderConfig) *IPAPI {
	config = withNetworkDefaults(config, "https://ipapi.co")
	return &IPAPI{config: config, httpClient: newHTTPClient(config.Timeout)}
}

// Lookup returns the geolocation of the caller's public address.
func (p *IPAPI) Lookup(ctx context.Context) GeoResult {
	req, err := newRequest(ctx, p.config, http.MethodGet, "/json/", nil)
	if err != nil {
		return GeoResult{Error: err.Error()}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return GeoResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoResult{Error: fmt.Sprintf("ipapi status %d", resp.StatusCode)}
	}

	var info struct {
		IP       string `json:"ip"`
		ASN      string `json:"asn"`
		Org      string `json:"org"`
		Network  string `json:"network"`
		Country  string `json:"country_name"`
		Region   string `json:"region"`
		City     string `json:"city"`
		Timezone string `json:"timezone"`
		Version  string `json:"version"`
	}
	if err := decodeJSON(resp, &info); err != nil {
		return GeoResult{Error: err.Error()}
	}
	return GeoResult{
		IP:       info.IP,
		ASN:      info.ASN,
		Org:      info.Org,
		Network:  info.Network,
		Country:  info.Country,
		Region:   info.Region,
		City:     info.City,
		Timezone: info.Timezone,
		Version:  info.Version,
	}
}

// =============================================================================
// Resolver health
// =============================================================================

// DNSCheck resolves example.com through Google's DNS-over-HTTPS resolver.
type DNSCheck struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewDNSCheck creates a resolver health check.
func NewDNSCheck(config ProviderConfig) *DNSCheck {
	config = withNetworkDefaults(config, "https://dns.google")
	return &DNSCheck{config: config, httpClient: newHTTPClient(config.Timeout)}
}

// Check reports the resolver unhealthy on a non-zero DNS status, an empty
// answer or any transport failure.
func (p *DNSCheck) Check(ctx context.Context) DNSResult {
	res := DNSResult{Resolver: "dns.google"}

	req, err := newRequest(ctx, p.config, http.MethodGet, "/resolve?name=example.com&type=A", nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.Status = resp.StatusCode
		return res
	}

	var answer struct {
		Status int         `json:"Status"`
		Answer []dnsAnswer `json:"Answer"`
	}
	if err := decodeJSON(resp, &answer); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Status = answer.Status
	res.AnswerCount = len(answer.Answer)
	res.OK = answer.Status == 0 && len(answer.Answer) > 0
	return res
}

type dnsAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	Data string `json:"data"`
}

// =============================================================================
// Captive portal
// =============================================================================

// DefaultCaptiveEndpoints are tried in order until one answers.
var DefaultCaptiveEndpoints = []string{
	"http://connectivitycheck.gstatic.com/generate_204",
	"http://clients3.google.com/generate_204",
}

// CaptivePortal detects networks that intercept plain HTTP connectivity checks.
type CaptivePortal struct {
	endpoints  []string
	httpClient *http.Client
}

// NewCaptivePortal creates a captive portal check. Nil endpoints selects
// DefaultCaptiveEndpoints.
func NewCaptivePortal(endpoints []string, timeout time.Duration) *CaptivePortal {
	if len(endpoints) == 0 {
		endpoints = DefaultCaptiveEndpoints
	}
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	return &CaptivePortal{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check returns the verdict of the first endpoint that answers. Anything other
// than an empty 204 means the request was intercepted. When no endpoint
// answers the network is reported as not captive.
func (p *CaptivePortal) Check(ctx context.Context) CaptivePortalResult {
	var lastErr error
	for _, endpoint := range p.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		empty := resp.ContentLength <= 0
		return CaptivePortalResult{
			Endpoint:      endpoint,
			Status:        resp.StatusCode,
			CaptivePortal: !(resp.StatusCode == http.StatusNoContent && empty),
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no captive portal endpoints configured")
	}
	res := CaptivePortalResult{Error: lastErr.Error()}
	if n := len(p.endpoints); n > 0 {
		res.Endpoint = p.endpoints[n-1]
	}
	return res
}

// =============================================================================
// Address reputation
// =============================================================================

// AbuseIPDB reports the abuse confidence of an address. It requires a key.
type AbuseIPDB struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewAbuseIPDB creates an AbuseIPDB lookup.
func NewAbuseIPDB(config ProviderConfig) *AbuseIPDB {
	config = withNetworkDefaults(config, "https://api.abuseipdb.com")
	return &AbuseIPDB{config: config, httpClient: newHTTPClient(config.Timeout)}
}

// Check looks up the address. An empty address or key is skipped.
func (p *AbuseIPDB) Check(ctx context.Context, ip string) AbuseResult {
	if p.config.APIKey == "" || ip == "" {
		return AbuseResult{Skipped: true}
	}

	path := "/api/v2/check?maxAgeInDays=90&ipAddress=" + url.QueryEscape(ip)
	req, err := newRequest(ctx, p.config, http.MethodGet, path, nil)
	if err != nil {
		return AbuseResult{Error: err.Error()}
	}
	req.Header.Set("Key", p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return AbuseResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AbuseResult{Error: "abuseipdb status " + strconv.Itoa(resp.StatusCode)}
	}

	var check struct {
		Data struct {
			AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
			ISP                  string `json:"isp"`
			CountryCode          string `json:"countryCode"`
			Domain               string `json:"domain"`
			TotalReports         int    `json:"totalReports"`
		} `json:"data"`
	}
	if err := decodeJSON(resp, &check); err != nil {
		return AbuseResult{Error: err.Error()}
	}
	return AbuseResult{
		AbuseConfidence: check.Data.AbuseConfidenceScore,
		ISP:             check.Data.ISP,
		Country:         check.Data.CountryCode,
		Domain:          check.Data.Domain,
		TotalReports:    check.Data.TotalReports,
	}
}

// =============================================================================
// TLS
// =============================================================================

// DefaultTLSHost is graded when no host is configured.
const DefaultTLSHost = "google.com"

// SSLLabs fetches the cached SSL Labs grade of a host. The grade is
// informational and does not contribute to the network score.
type SSLLabs struct {
	config     ProviderConfig
	httpClient *http.Client
	host       string
}

// NewSSLLabs creates an SSL Labs lookup for host.
func NewSSLLabs(config ProviderConfig, host string) *SSLLabs {
	config = withNetworkDefaults(config, "https://api.ssllabs.com")
	if host == "" {
		host = DefaultTLSHost
	}
	return &SSLLabs{config: config, httpClient: newHTTPClient(config.Timeout), host: host}
}

// Grade returns the grade of the first reported endpoint.
func (p *SSLLabs) Grade(ctx context.Context) TLSResult {
	res := TLSResult{Host: p.host}

	path := "/api/v3/analyze?fromCache=on&maxAge=24&host=" + url.QueryEscape(p.host)
	req, err := newRequest(ctx, p.config, http.MethodGet, path, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("ssllabs status %d", resp.StatusCode)
		return res
	}

	var analysis struct {
		Endpoints []struct {
			Grade string `json:"grade"`
		} `json:"endpoints"`
	}
	if err := decodeJSON(resp, &analysis); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Grade = "unknown"
	if len(analysis.Endpoints) > 0 && analysis.Endpoints[0].Grade != "" {
		res.Grade = analysis.Endpoints[0].Grade
	}
	return res
}
