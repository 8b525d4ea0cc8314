package probes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	virusTotalDefaultBaseURL = "https://www.virustotal.com"
	virusTotalAPIPath        = "/api/v3"

	// DefaultAnalysisDelay is how long VirusTotal is given to analyze a
	// submitted URL before the analysis is fetched.
	DefaultAnalysisDelay = time.Second
)

// VirusTotal submits URLs to the VirusTotal v3 API and reads back the engine
// verdict counts.
type VirusTotal struct {
	config        ProviderConfig
	httpClient    *http.Client
	analysisDelay time.Duration
}

// NewVirusTotal creates a VirusTotal probe. A non-positive delay selects
// DefaultAnalysisDelay.
func NewVirusTotal(config ProviderConfig, analysisDelay time.Duration) *VirusTotal {
	config = config.withDefaults(virusTotalDefaultBaseURL)
	if analysisDelay <= 0 {
		analysisDelay = DefaultAnalysisDelay
	}
	return &VirusTotal{
		config:        config,
		httpClient:    newHTTPClient(config.Timeout),
		analysisDelay: analysisDelay,
	}
}

// Name returns the probe identifier.
func (p *VirusTotal) Name() string { return "virustotal" }

// CheckURL submits the URL and scores the resulting analysis.
func (p *VirusTotal) CheckURL(ctx context.Context, rawURL string) Result {
	if p.config.APIKey == "" {
		return Skipped(p.Name(), "API key not configured")
	}

	analysisID, err := p.submit(ctx, rawURL)
	if err != nil {
		return Failed(p.Name(), err)
	}

	select {
	case <-ctx.Done():
		return Failed(p.Name(), ctx.Err())
	case <-time.After(p.analysisDelay):
	}

	stats, err := p.analysis(ctx, analysisID)
	if err != nil {
		return Failed(p.Name(), err)
	}
	return VirusTotalResult(p.Name(), stats.Malicious, stats.Suspicious, stats.total())
}

// VirusTotalResult scores engine verdict counts. Malicious verdicts weigh
// twice as much as suspicious ones.
func VirusTotalResult(source string, malicious, suspicious, total int) Result {
	r := Result{Source: source, Malicious: malicious, Suspicious: suspicious, Total: total}
	if total <= 0 {
		r.Status = StatusUnknown
		return r
	}

	r.Score = float64(malicious*100+suspicious*50) / float64(total)
	switch {
	case malicious > 0:
		r.Status = StatusUnsafe
	case suspicious > 0:
		r.Status = StatusSuspicious
	default:
		r.Status = StatusSafe
	}
	return r
}

func (p *VirusTotal) submit(ctx context.Context, rawURL string) (string, error) {
	form := url.Values{}
	form.Set("url", rawURL)

	req, err := p.newRequest(ctx, http.MethodPost, "/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("VirusTotal submit failed: %w", err)
	}
	defer resp.Body.Close()

	var submitted vtSubmitResponse
	if err := decodeJSON(resp, &submitted); err != nil {
		return "", err
	}
	if submitted.Data.ID == "" {
		return "", fmt.Errorf("VirusTotal returned no analysis id")
	}
	return submitted.Data.ID, nil
}

func (p *VirusTotal) analysis(ctx context.Context, id string) (vtStats, error) {
	req, err := p.newRequest(ctx, http.MethodGet, "/analyses/"+url.PathEscape(id), nil)
	if err != nil {
		return vtStats{}, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return vtStats{}, fmt.Errorf("VirusTotal analysis fetch failed: %w", err)
	}
	defer resp.Body.Close()

	var analysis vtAnalysisResponse
	if err := decodeJSON(resp, &analysis); err != nil {
		return vtStats{}, err
	}
	return analysis.Data.Attributes.Stats, nil
}

func (p *VirusTotal) newRequest(ctx context.Context, method, path string, body *strings.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = newRequest(ctx, p.config, method, virusTotalAPIPath+path, nil)
	} else {
		req, err = newRequest(ctx, p.config, method, virusTotalAPIPath+path, body)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", p.config.APIKey)
	return req, nil
}

// VirusTotal API types

type vtSubmitResponse struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type vtAnalysisResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status string  `json:"status"`
			Stats  vtStats `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

type vtStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
	Timeout    int `json:"timeout"`
}

func (s vtStats) total() int {
	return s.Malicious + s.Suspicious + s.Undetected + s.Harmless + s.Timeout
}
