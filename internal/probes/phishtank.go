package probes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const phishTankDefaultBaseURL = "https://checkurl.phishtank.com"

// PhishTank checks URLs against the PhishTank database. Without an app key,
// or when the lookup cannot be completed, it defers to the OpenPhish fallback.
type PhishTank struct {
	config     ProviderConfig
	httpClient *http.Client
	fallback   URLProbe
}

// NewPhishTank creates a PhishTank probe backed by the OpenPhish fallback.
func NewPhishTank(config ProviderConfig) *PhishTank {
	config = config.withDefaults(phishTankDefaultBaseURL)
	return &PhishTank{
		config:     config,
		httpClient: newHTTPClient(config.Timeout),
		fallback:   OpenPhish{},
	}
}

// Name returns the probe identifier.
func (p *PhishTank) Name() string { return "phishtank" }

// CheckURL queries PhishTank for the URL.
func (p *PhishTank) CheckURL(ctx context.Context, rawURL string) Result {
	if p.config.APIKey == "" {
		return p.fallback.CheckURL(ctx, rawURL)
	}

	form := url.Values{}
	form.Set("url", rawURL)
	form.Set("format", "json")
	form.Set("app_key", p.config.APIKey)

	req, err := newRequest(ctx, p.config, http.MethodPost, "/checkurl/", strings.NewReader(form.Encode()))
	if err != nil {
		return Failed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.fallback.CheckURL(ctx, rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Failed(p.Name(), fmt.Errorf("API returned status %d", resp.StatusCode))
	}

	var check phishTankResponse
	if err := decodeJSON(resp, &check); err != nil {
		return p.fallback.CheckURL(ctx, rawURL)
	}

	if check.Results.InDatabase {
		if check.Results.Valid {
			return Result{Source: p.Name(), Status: StatusUnsafe, Score: 100}
		}
		return Result{Source: p.Name(), Status: StatusSuspicious, Score: 70}
	}
	return Result{Source: p.Name(), Status: StatusSafe, Score: 0}
}

type phishTankResponse struct {
	Results struct {
		URL        string `json:"url"`
		InDatabase bool   `json:"in_database"`
		Valid      bool   `json:"valid"`
		Verified   bool   `json:"verified"`
	} `json:"results"`
}

// OpenPhish is a placeholder for the OpenPhish community feed. It performs
// no lookup and always reports an unknown verdict.
type OpenPhish struct{}

// Name returns the probe identifier.
func (OpenPhish) Name() string { return "openphish" }

// CheckURL returns an unknown verdict.
func (o OpenPhish) CheckURL(_ context.Context, rawURL string) Result {
	if _, err := url.Parse(rawURL); err != nil {
		return Failed(o.Name(), err)
	}
	return Result{Source: o.Name(), Status: StatusUnknown, Score: 0, Note: "OpenPhish check simulated"}
}
