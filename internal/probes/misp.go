package probes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// MISP searches a MISP instance for URL attributes. Both the instance base
// URL and an auth key are required.
type MISP struct {
	config        ProviderConfig
	httpClient    *http.Client
	publishedOnly bool
}

// NewMISP creates a MISP probe. Only published events are searched.
func NewMISP(config ProviderConfig) *MISP {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &MISP{config: config, httpClient: newHTTPClient(config.Timeout), publishedOnly: true}
}

// Name returns the probe identifier.
func (p *MISP) Name() string { return "misp" }

// CheckURL searches URL attributes for an exact value match. The first
// attribute returned decides the score through its event threat level.
func (p *MISP) CheckURL(ctx context.Context, rawURL string) Result {
	if p.config.APIKey == "" || p.config.BaseURL == "" {
		return Skipped(p.Name(), "MISP URL or API key not configured")
	}

	body, err := json.Marshal(mispAttributeSearchRequest{
		Value:     rawURL,
		Type:      "url",
		Published: p.publishedOnly,
		Limit:     1,
	})
	if err != nil {
		return Failed(p.Name(), err)
	}

	req, err := newRequest(ctx, p.config, http.MethodPost, "/attributes/restSearch", bytes.NewReader(body))
	if err != nil {
		return Failed(p.Name(), err)
	}
	req.Header.Set("Authorization", p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Failed(p.Name(), fmt.Errorf("MISP search failed: %w", err))
	}
	defer resp.Body.Close()

	var searchResp mispAttributeSearchResponse
	if err := decodeJSON(resp, &searchResp); err != nil {
		return Failed(p.Name(), err)
	}

	if len(searchResp.Response.Attribute) == 0 {
		return Result{Source: p.Name(), Status: StatusSafe, Score: 0}
	}

	attr := searchResp.Response.Attribute[0]
	return Result{
		Source:     p.Name(),
		Status:     StatusUnsafe,
		Score:      threatLevelScore(attr.Event.ThreatLevelID),
		ThreatType: string(categoryToThreatType(attr.Category)),
		Note:       attr.Event.Info,
	}
}

// threatLevelScore maps a MISP event threat level (1 high, 2 medium, 3 low,
// 4 undefined) to a score.
func threatLevelScore(level string) float64 {
	switch level {
	case "1":
		return 100
	case "2":
		return 80
	case "3":
		return 60
	default:
		return 50
	}
}

func categoryToThreatType(category string) ThreatType {
	switch category {
	case "Network activity":
		return ThreatTypeC2
	case "Payload delivery", "Artifacts dropped", "Payload installation", "Persistence mechanism":
		return ThreatTypeMalware
	case "Social network":
		return ThreatTypePhishing
	default:
		return ThreatTypeUnknown
	}
}

// MISP API types

type mispAttributeSearchRequest struct {
	Value     string `json:"value,omitempty"`
	Type      string `json:"type,omitempty"`
	Published bool   `json:"published,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type mispAttributeSearchResponse struct {
	Response struct {
		Attribute []mispAttribute `json:"Attribute"`
	} `json:"response"`
}

type mispAttribute struct {
	ID       string    `json:"id"`
	UUID     string    `json:"uuid"`
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"`
	Category string    `json:"category"`
	Value    string    `json:"value"`
	Comment  string    `json:"comment"`
	Event    mispEvent `json:"Event,omitempty"`
}

type mispEvent struct {
	ID            string `json:"id"`
	Info          string `json:"info"`
	ThreatLevelID string `json:"threat_level_id"`
	Published     bool   `json:"published"`
}
