// Package probes provides the external signal sources used to enrich URL and
// network risk scores. Every probe returns a normalized Result; failures are
// reported through the Result status and never as Go errors.
package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Status is the normalized outcome of a single probe invocation.
type Status string

const (
	StatusSafe        Status = "safe"
	StatusUnsafe      Status = "unsafe"
	StatusSuspicious  Status = "suspicious"
	StatusUnknown     Status = "unknown"
	StatusSkipped     Status = "skipped"
	StatusError       Status = "error"
	StatusMedium      Status = "medium"
	StatusEstablished Status = "established"
)

// ThreatType categorizes a reputation hit.
type ThreatType string

const (
	ThreatTypeMalware    ThreatType = "malware"
	ThreatTypeC2         ThreatType = "c2"
	ThreatTypePhishing   ThreatType = "phishing"
	ThreatTypeBotnet     ThreatType = "botnet"
	ThreatTypeScanner    ThreatType = "scanner"
	ThreatTypeSpam       ThreatType = "spam"
	ThreatTypeRansomware ThreatType = "ransomware"
	ThreatTypeUnknown    ThreatType = "unknown"
)

// Result is the normalized signal produced by one probe for one input.
type Result struct {
	Source        string  `json:"source"`
	Status        Status  `json:"status"`
	Score         float64 `json:"score"`
	ThreatType    string  `json:"threat_type,omitempty"`
	DomainAgeDays *int    `json:"domain_age_days,omitempty"`
	Malicious     int     `json:"malicious,omitempty"`
	Suspicious    int     `json:"suspicious,omitempty"`
	Total         int     `json:"total,omitempty"`
	Note          string  `json:"note,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Skipped reports a probe that is not configured.
func Skipped(source, reason string) Result {
	return Result{Source: source, Status: StatusSkipped, Reason: reason}
}

// Failed reports a transient failure with its diagnostic.
func Failed(source string, err error) Result {
	return Result{Source: source, Status: StatusError, Reason: err.Error()}
}

// URLProbe checks a single URL against one reputation source.
type URLProbe interface {
	Name() string
	CheckURL(ctx context.Context, rawURL string) Result
}

// ProviderConfig holds the resolved settings shared by all probes. An empty
// APIKey disables probes that require one.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// DefaultTimeout bounds every external call made by a probe.
const DefaultTimeout = 1500 * time.Millisecond

const userAgent = "Fortress/1.0"

func (c ProviderConfig) withDefaults(baseURL string) ProviderConfig {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// newRequest creates a request against the provider base URL.
func newRequest(ctx context.Context, cfg ProviderConfig, method, path string, body io.Reader) (*http.Request, error) {
	fullURL := strings.TrimSuffix(cfg.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// decodeJSON decodes a 200 response body, reporting other statuses as errors.
func decodeJSON(resp *http.Response, v any) error {
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
