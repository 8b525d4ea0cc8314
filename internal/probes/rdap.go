package probes

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const rdapDefaultBaseURL = "https://rdap.org"

// Domain age bands, in days.
const (
	newDomainDays         = 30
	establishedDomainDays = 90
)

// DomainAge estimates risk from the registration date published over RDAP.
// It needs no credential.
type DomainAge struct {
	config     ProviderConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewDomainAge creates an RDAP domain-age probe.
func NewDomainAge(config ProviderConfig) *DomainAge {
	config = config.withDefaults(rdapDefaultBaseURL)
	return &DomainAge{
		config:     config,
		httpClient: newHTTPClient(config.Timeout),
		now:        time.Now,
	}
}

// Name returns the probe identifier.
func (p *DomainAge) Name() string { return "domain_age" }

// CheckURL looks up the registration event of the URL's registrable domain.
func (p *DomainAge) CheckURL(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Failed(p.Name(), err)
	}
	domain := registrableDomain(u.Hostname())
	if domain == "" {
		return Failed(p.Name(), fmt.Errorf("no host in %q", rawURL))
	}

	req, err := newRequest(ctx, p.config, http.MethodGet, "/domain/"+url.PathEscape(domain), nil)
	if err != nil {
		return Failed(p.Name(), err)
	}
	req.Header.Set("Accept", "application/rdap+json, application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Failed(p.Name(), fmt.Errorf("RDAP lookup failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Failed(p.Name(), fmt.Errorf("RDAP API returned status %d", resp.StatusCode))
	}

	var domainResp rdapDomainResponse
	if err := decodeJSON(resp, &domainResp); err != nil {
		return Failed(p.Name(), err)
	}

	for _, event := range domainResp.Events {
		if event.EventAction != "registration" {
			continue
		}
		registered, err := time.Parse(time.RFC3339, event.EventDate)
		if err != nil {
			return Failed(p.Name(), fmt.Errorf("parsing registration date: %w", err))
		}
		days := int(p.now().Sub(registered).Hours() / 24)
		return DomainAgeResult(p.Name(), days)
	}

	return Result{Source: p.Name(), Status: StatusUnknown, Score: 30, Note: "Domain age could not be determined"}
}

// DomainAgeResult scores a domain registered the given number of days ago.
// New domains lose 3 points per day from 100, recent ones lose 1 point per
// day past the new-domain band from 50, and established domains score 0.
func DomainAgeResult(source string, days int) Result {
	if days < 0 {
		days = 0
	}
	age := days
	r := Result{Source: source, DomainAgeDays: &age}

	switch {
	case days < newDomainDays:
		r.Status = StatusSuspicious
		r.Score = float64(max(0, 100-days*3))
		r.Note = fmt.Sprintf("New domain (%d days old)", days)
	case days < establishedDomainDays:
		r.Status = StatusMedium
		r.Score = float64(max(0, 50-(days-newDomainDays)))
		r.Note = fmt.Sprintf("Recent domain (%d days old)", days)
	default:
		r.Status = StatusEstablished
		r.Score = 0
		r.Note = fmt.Sprintf("Established domain (%d days old)", days)
	}
	return r
}

// registrableDomain reduces a host to its eTLD+1; RDAP servers only answer
// for registered names. IP literals and unknown suffixes are returned as is.
func registrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return ""
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

type rdapDomainResponse struct {
	LDHName string      `json:"ldhName"`
	Events  []rdapEvent `json:"events"`
}

type rdapEvent struct {
	EventAction string `json:"eventAction"`
	EventDate   string `json:"eventDate"`
}
