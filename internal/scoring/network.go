package scoring

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/probes"
)

// NetworkPrivacyNotice is attached to every network assessment.
const NetworkPrivacyNotice = "No device identifiers collected. Only public network info queried via external services."

// DefaultSSID is reported when no network name is configured.
const DefaultSSID = "Detected_WiFi"

// Network probe names.
const (
	SourceIPInfo        = "ipinfo"
	SourceIPAPI         = "ipapi"
	SourceDNS           = "dns"
	SourceCaptivePortal = "captive_portal"
	SourceAbuseIPDB     = "abuseipdb"
	SourceTLS           = "tls"
)

// NetworkProbeNames lists every network probe.
var NetworkProbeNames = []string{SourceIPInfo, SourceIPAPI, SourceDNS, SourceCaptivePortal, SourceAbuseIPDB, SourceTLS}

// Network score contributions.
const (
	captivePoints = 35
	dnsPoints     = 20
	abuseCap      = 40
	ipv6Points    = 5

	noIPCacheKey  = "noip"
	ipVersionIPv6 = "IPv6"
	captiveNote   = "Captive portal detected"
	dnsIssuesNote = "DNS resolver issues"
)

var exposedByLevel = map[RiskLevel][]string{
	RiskHigh:   {"Passwords", "OTP", "Browsing history"},
	RiskMedium: {"Passwords", "Browsing history"},
	RiskLow:    {},
}

// GeoLocator resolves the public address of the current network.
type GeoLocator interface {
	Lookup(ctx context.Context) probes.GeoResult
}

// DNSChecker probes resolver health.
type DNSChecker interface {
	Check(ctx context.Context) probes.DNSResult
}

// CaptivePortalChecker detects intercepted connectivity checks.
type CaptivePortalChecker interface {
	Check(ctx context.Context) probes.CaptivePortalResult
}

// AbuseChecker reports the abuse reputation of an address.
type AbuseChecker interface {
	Check(ctx context.Context, ip string) probes.AbuseResult
}

// TLSGrader reports a TLS grade.
type TLSGrader interface {
	Grade(ctx context.Context) probes.TLSResult
}

// NetworkProbes is the set of telemetry sources behind a network scan.
// IPAPI is consulted only when IPInfo is skipped. Nil probes are skipped.
type NetworkProbes struct {
	IPInfo        GeoLocator
	IPAPI         GeoLocator
	DNS           DNSChecker
	CaptivePortal CaptivePortalChecker
	AbuseIPDB     AbuseChecker
	TLS           TLSGrader
}

// NetworkSources holds the raw result of every network probe.
type NetworkSources struct {
	IPInfo        probes.GeoResult   `json:"ipinfo"`
	IPAPI         *probes.GeoResult  `json:"ipapi,omitempty"`
	DNS           probes.DNSResult   `json:"dns"`
	CaptivePortal bool               `json:"captive_portal"`
	AbuseIPDB     probes.AbuseResult `json:"abuseipdb"`
	TLS           probes.TLSResult   `json:"tls"`
}

// geo returns the geolocation that identifies the network.
func (s NetworkSources) geo() probes.GeoResult {
	if s.IPAPI != nil {
		return *s.IPAPI
	}
	return s.IPInfo
}

// NetworkAssessment is the risk verdict for the current network.
type NetworkAssessment struct {
	SSID                string         `json:"ssid"`
	RiskLevel           RiskLevel      `json:"risk_level"`
	RiskScore           int            `json:"risk_score"`
	PossibleExposedData []string       `json:"possible_exposed_data"`
	Notes               []string       `json:"notes"`
	Sources             NetworkSources `json:"sources"`
	Cached              bool           `json:"cached"`
	PrivacyNotice       string         `json:"privacy_notice"`
}

// NetworkScore is the pure outcome of ScoreNetwork.
type NetworkScore struct {
	Score       int
	Level       RiskLevel
	ExposedData []string
	Notes       []string
}

// NetworkSignals are the inputs to ScoreNetwork.
type NetworkSignals struct {
	CaptivePortal   bool
	DNSHealthy      bool
	AbuseConfidence int
	IPVersion       string
}

// ScoreNetwork combines network signals into a bounded score.
func ScoreNetwork(sig NetworkSignals) NetworkScore {
	score := 0
	notes := []string{}

	if sig.CaptivePortal {
		score += captivePoints
		notes = append(notes, captiveNote)
	}
	if !sig.DNSHealthy {
		score += dnsPoints
		notes = append(notes, dnsIssuesNote)
	}
	if sig.AbuseConfidence > 0 {
		score += min(abuseCap, sig.AbuseConfidence)
		notes = append(notes, "AbuseIPDB confidence "+strconv.Itoa(sig.AbuseConfidence))
	}
	if sig.IPVersion == ipVersionIPv6 {
		score += ipv6Points
	}

	score = int(clamp(float64(score), 0, 100))
	level := levelFor(float64(score))
	return NetworkScore{
		Score:       score,
		Level:       level,
		ExposedData: append([]string{}, exposedByLevel[level]...),
		Notes:       notes,
	}
}

// NetworkScanner assesses the network the server is attached to. Results
// are cached per public address.
type NetworkScanner struct {
	probes    NetworkProbes
	cache     *cache.Cache
	ssid      string
	deadline  time.Duration
	logger    *zap.Logger
	observers observers
}

// NetworkOption configures a NetworkScanner.
type NetworkOption func(*NetworkScanner)

// WithSSID sets the reported network name.
func WithSSID(ssid string) NetworkOption {
	return func(s *NetworkScanner) {
		if ssid != "" {
			s.ssid = ssid
		}
	}
}

// WithScanDeadline bounds the concurrent probe stage.
func WithScanDeadline(d time.Duration) NetworkOption {
	return func(s *NetworkScanner) {
		if d > 0 {
			s.deadline = d
		}
	}
}

// WithScanLogger sets the logger.
func WithScanLogger(logger *zap.Logger) NetworkOption {
	return func(s *NetworkScanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScanObserver adds a probe observer.
func WithScanObserver(o Observer) NetworkOption {
	return func(s *NetworkScanner) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// NewNetworkScanner creates a scanner. results caches NetworkAssessments.
func NewNetworkScanner(p NetworkProbes, results *cache.Cache, opts ...NetworkOption) *NetworkScanner {
	s := &NetworkScanner{
		probes:   p,
		cache:    results,
		ssid:     DefaultSSID,
		deadline: DefaultRequestDeadline,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan geolocates the network, then serves a cached assessment for the
// address or runs the remaining probes concurrently and scores them.
func (s *NetworkScanner) Scan(ctx context.Context) NetworkAssessment {
	ctx, span := tracer.Start(ctx, "scoring.NetworkScan")
	defer span.End()
	caller := ctx

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	var sources NetworkSources
	sources.IPInfo = s.lookupGeo(ctx, SourceIPInfo, s.probes.IPInfo)
	if sources.IPInfo.Skipped {
		ipapi := s.lookupGeo(ctx, SourceIPAPI, s.probes.IPAPI)
		sources.IPAPI = &ipapi
	}
	geo := sources.geo()

	key := geo.IP
	if key == "" {
		key = noIPCacheKey
	}
	var cached NetworkAssessment
	if s.cache.Get(ctx, key, &cached) {
		cached.Cached = true
		return cached
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sources.DNS = s.checkDNS(gctx)
		return nil
	})
	g.Go(func() error {
		sources.CaptivePortal = s.checkCaptive(gctx)
		return nil
	})
	g.Go(func() error {
		sources.AbuseIPDB = s.checkAbuse(gctx, geo.IP)
		return nil
	})
	g.Go(func() error {
		sources.TLS = s.gradeTLS(gctx)
		return nil
	})
	g.Wait()

	scored := ScoreNetwork(NetworkSignals{
		CaptivePortal:   sources.CaptivePortal,
		DNSHealthy:      sources.DNS.OK,
		AbuseConfidence: sources.AbuseIPDB.AbuseConfidence,
		IPVersion:       geo.IPVersion(),
	})
	span.SetAttributes(attribute.Int("fortress.network_score", scored.Score))

	a := NetworkAssessment{
		SSID:                s.ssid,
		RiskLevel:           scored.Level,
		RiskScore:           scored.Score,
		PossibleExposedData: scored.ExposedData,
		Notes:               scored.Notes,
		Sources:             sources,
		PrivacyNotice:       NetworkPrivacyNotice,
	}
	if caller.Err() != nil {
		return a
	}
	s.cache.Set(context.WithoutCancel(ctx), key, a)
	return a
}

func (s *NetworkScanner) lookupGeo(ctx context.Context, name string, p GeoLocator) probes.GeoResult {
	if p == nil {
		s.observe(name, probes.StatusSkipped, 0)
		return probes.GeoResult{Skipped: true}
	}
	start := time.Now()
	res := p.Lookup(ctx)
	s.observe(name, outcome(res.Skipped, res.Error, false), time.Since(start))
	return res
}

func (s *NetworkScanner) checkDNS(ctx context.Context) probes.DNSResult {
	if s.probes.DNS == nil {
		s.observe(SourceDNS, probes.StatusSkipped, 0)
		return probes.DNSResult{Error: "probe not configured"}
	}
	start := time.Now()
	res := s.probes.DNS.Check(ctx)
	s.observe(SourceDNS, outcome(false, res.Error, !res.OK), time.Since(start))
	return res
}

func (s *NetworkScanner) checkCaptive(ctx context.Context) bool {
	if s.probes.CaptivePortal == nil {
		s.observe(SourceCaptivePortal, probes.StatusSkipped, 0)
		return false
	}
	start := time.Now()
	res := s.probes.CaptivePortal.Check(ctx)
	s.observe(SourceCaptivePortal, outcome(false, res.Error, res.CaptivePortal), time.Since(start))
	return res.CaptivePortal
}

func (s *NetworkScanner) checkAbuse(ctx context.Context, ip string) probes.AbuseResult {
	if s.probes.AbuseIPDB == nil {
		s.observe(SourceAbuseIPDB, probes.StatusSkipped, 0)
		return probes.AbuseResult{Skipped: true}
	}
	start := time.Now()
	res := s.probes.AbuseIPDB.Check(ctx, ip)
	s.observe(SourceAbuseIPDB, outcome(res.Skipped, res.Error, res.AbuseConfidence > 0), time.Since(start))
	return res
}

func (s *NetworkScanner) gradeTLS(ctx context.Context) probes.TLSResult {
	if s.probes.TLS == nil {
		s.observe(SourceTLS, probes.StatusSkipped, 0)
		return probes.TLSResult{Error: "probe not configured"}
	}
	start := time.Now()
	res := s.probes.TLS.Grade(ctx)
	s.observe(SourceTLS, outcome(false, res.Error, false), time.Since(start))
	return res
}

func (s *NetworkScanner) observe(name string, status probes.Status, elapsed time.Duration) {
	s.observers.observe(name, status, elapsed)
	if status == probes.StatusError {
		s.logger.Warn("Network probe failed", zap.String("probe", name), zap.Duration("elapsed", elapsed))
	}
}

// outcome maps a network probe result onto the shared status vocabulary.
func outcome(skipped bool, errText string, flagged bool) probes.Status {
	switch {
	case skipped:
		return probes.StatusSkipped
	case errText != "":
		return probes.StatusError
	case flagged:
		return probes.StatusSuspicious
	default:
		return probes.StatusSafe
	}
}
