package probes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const (
	otxDefaultBaseURL = "https://otx.alienvault.com"
	otxAPIPath        = "/api/v1"
)

// OTX checks URLs against AlienVault Open Threat Exchange. A URL referenced by
// one or more community pulses is reported unsafe; more pulses mean a higher
// score.
type OTX struct {
	config     ProviderConfig
	httpClient *http.Client

	mu        sync.RWMutex
	rateLimit RateLimitStatus
}

// RateLimitStatus is the provider quota reported by the last response.
type RateLimitStatus struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// NewOTX creates an OTX probe.
func NewOTX(config ProviderConfig) *OTX {
	config = config.withDefaults(otxDefaultBaseURL)
	return &OTX{config: config, httpClient: newHTTPClient(config.Timeout)}
}

// Name returns the probe identifier.
func (p *OTX) Name() string { return "otx" }

// RateLimit returns the quota reported by the last response.
func (p *OTX) RateLimit() RateLimitStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rateLimit
}

// CheckURL looks the URL indicator up in OTX.
func (p *OTX) CheckURL(ctx context.Context, rawURL string) Result {
	if p.config.APIKey == "" {
		return Skipped(p.Name(), "API key not configured")
	}

	path := fmt.Sprintf("/indicators/url/%s/general", url.PathEscape(rawURL))
	req, err := p.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return Failed(p.Name(), err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Failed(p.Name(), fmt.Errorf("OTX lookup failed: %w", err))
	}
	defer resp.Body.Close()

	p.updateRateLimit(resp)

	// 404 means not found in OTX
	if resp.StatusCode == http.StatusNotFound {
		return Result{Source: p.Name(), Status: StatusSafe, Score: 0}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return Failed(p.Name(), fmt.Errorf("OTX authentication failed: invalid API key"))
	}

	var general otxGeneralResponse
	if err := decodeJSON(resp, &general); err != nil {
		return Failed(p.Name(), err)
	}

	if general.PulseInfo.Count == 0 {
		return Result{Source: p.Name(), Status: StatusSafe, Score: 0}
	}

	res := Result{
		Source:     p.Name(),
		Status:     StatusUnsafe,
		Score:      pulseScore(general.PulseInfo.Count),
		ThreatType: string(ThreatTypeUnknown),
		Note:       fmt.Sprintf("%d pulses", general.PulseInfo.Count),
	}
	if len(general.PulseInfo.Pulses) > 0 {
		res.ThreatType = string(determineThreatType(general.PulseInfo.Pulses[0].Tags))
	}
	return res
}

func (p *OTX) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := newRequest(ctx, p.config, method, otxAPIPath+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-OTX-API-KEY", p.config.APIKey)
	return req, nil
}

// updateRateLimit updates rate limit from response headers.
func (p *OTX) updateRateLimit(resp *http.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		var r int
		fmt.Sscanf(remaining, "%d", &r)
		p.rateLimit.Remaining = r
	}
	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		var l int
		fmt.Sscanf(limit, "%d", &l)
		p.rateLimit.Limit = l
	}
}

// pulseScore maps the number of pulses referencing an indicator to a score.
func pulseScore(pulseCount int) float64 {
	switch {
	case pulseCount >= 10:
		return 95
	case pulseCount >= 5:
		return 85
	case pulseCount >= 3:
		return 75
	case pulseCount >= 1:
		return 65
	default:
		return 0
	}
}

// determineThreatType maps pulse tags to a threat type.
func determineThreatType(tags []string) ThreatType {
	tagLower := strings.ToLower(strings.Join(tags, " "))

	switch {
	case strings.Contains(tagLower, "phishing"):
		return ThreatTypePhishing
	case strings.Contains(tagLower, "ransomware"):
		return ThreatTypeRansomware
	case strings.Contains(tagLower, "malware"):
		return ThreatTypeMalware
	case strings.Contains(tagLower, "c2") || strings.Contains(tagLower, "command and control"):
		return ThreatTypeC2
	case strings.Contains(tagLower, "botnet"):
		return ThreatTypeBotnet
	case strings.Contains(tagLower, "scanner") || strings.Contains(tagLower, "scan"):
		return ThreatTypeScanner
	case strings.Contains(tagLower, "spam"):
		return ThreatTypeSpam
	default:
		return ThreatTypeUnknown
	}
}

// OTX API types

type otxGeneralResponse struct {
	Indicator  string       `json:"indicator"`
	Type       string       `json:"type"`
	Reputation int          `json:"reputation"`
	PulseInfo  otxPulseInfo `json:"pulse_info"`
}

type otxPulseInfo struct {
	Count  int        `json:"count"`
	Pulses []otxPulse `json:"pulses"`
}

type otxPulse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
	Adversary string   `json:"adversary,omitempty"`
}
