package probes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const safeBrowsingDefaultBaseURL = "https://safebrowsing.googleapis.com"

// SafeBrowsing checks URLs against the Google Safe Browsing v4 lookup API.
type SafeBrowsing struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewSafeBrowsing creates a Safe Browsing probe.
func NewSafeBrowsing(config ProviderConfig) *SafeBrowsing {
	config = config.withDefaults(safeBrowsingDefaultBaseURL)
	return &SafeBrowsing{config: config, httpClient: newHTTPClient(config.Timeout)}
}

// Name returns the probe identifier.
func (p *SafeBrowsing) Name() string { return "google_safe_browsing" }

// CheckURL looks the URL up in the Safe Browsing threat lists.
func (p *SafeBrowsing) CheckURL(ctx context.Context, rawURL string) Result {
	if p.config.APIKey == "" {
		return Skipped(p.Name(), "API key not configured")
	}

	payload := sbFindRequest{
		Client: sbClient{ClientID: "digital-fortress", ClientVersion: "1.0.0"},
		ThreatInfo: sbThreatInfo{
			ThreatTypes:      []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION"},
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    []sbThreatEntry{{URL: rawURL}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failed(p.Name(), err)
	}

	path := "/v4/threatMatches:find?key=" + url.QueryEscape(p.config.APIKey)
	req, err := newRequest(ctx, p.config, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return Failed(p.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Failed(p.Name(), fmt.Errorf("safe browsing lookup failed: %w", err))
	}
	defer resp.Body.Close()

	var found sbFindResponse
	if err := decodeJSON(resp, &found); err != nil {
		return Failed(p.Name(), err)
	}

	if len(found.Matches) > 0 {
		return Result{
			Source:     p.Name(),
			Status:     StatusUnsafe,
			Score:      100,
			ThreatType: found.Matches[0].ThreatType,
		}
	}
	return Result{Source: p.Name(), Status: StatusSafe, Score: 0}
}

// Safe Browsing API types

type sbFindRequest struct {
	Client     sbClient     `json:"client"`
	ThreatInfo sbThreatInfo `json:"threatInfo"`
}

type sbClient struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type sbThreatInfo struct {
	ThreatTypes      []string        `json:"threatTypes"`
	PlatformTypes    []string        `json:"platformTypes"`
	ThreatEntryTypes []string        `json:"threatEntryTypes"`
	ThreatEntries    []sbThreatEntry `json:"threatEntries"`
}

type sbThreatEntry struct {
	URL string `json:"url"`
}

type sbFindResponse struct {
	Matches []struct {
		ThreatType   string `json:"threatType"`
		PlatformType string `json:"platformType"`
	} `json:"matches"`
}
