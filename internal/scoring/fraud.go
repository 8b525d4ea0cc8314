package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/heuristics"
	"github.com/lvonguyen/fortress/internal/probes"
)

// Probe names, also the keys of URLReport.APIResults.
const (
	SourceSafeBrowsing = "google_safe_browsing"
	SourcePhishTank    = "phishtank"
	SourceDomainAge    = "domain_age"
	SourceVirusTotal   = "virustotal"
	SourceOTX          = "otx"
	SourceMISP         = "misp"
)

// URLProbeNames lists every URL probe in reporting order.
var URLProbeNames = []string{SourceSafeBrowsing, SourcePhishTank, SourceDomainAge, SourceVirusTotal, SourceOTX, SourceMISP}

// externalSourceOrder fixes the order in which findings enter an explanation.
var externalSourceOrder = []string{"google_safe_browsing", "phishtank", "whois", "virustotal", "otx", "misp"}

// Fraud score weights.
const (
	localWeight      = 0.5
	reputationWeight = 0.3
	domainAgeWeight  = 0.2

	explanationThreshold = 40
	maxExplanationParts  = 3
)

// DefaultRequestDeadline bounds the probe fan-out for one URL.
const DefaultRequestDeadline = 4 * time.Second

// FraudPrivacyNotice is attached to every fraud assessment.
const FraudPrivacyNotice = "External APIs used only for URL reputation checks."

// URLReport is the cached per-URL aggregate of every probe.
type URLReport struct {
	URL             string                   `json:"url"`
	ReputationScore float64                  `json:"reputation_score"`
	DomainAgeScore  float64                  `json:"domain_age_score"`
	ExternalSources map[string]string        `json:"external_sources"`
	APIResults      map[string]probes.Result `json:"api_results"`
}

// Risk is the value used to pick the highest-risk URL.
func (r URLReport) Risk() float64 {
	return r.ReputationScore + r.DomainAgeScore
}

// FraudAssessment is the combined verdict for a message.
type FraudAssessment struct {
	FraudScore      int               `json:"fraud_score"`
	RiskLevel       RiskLevel         `json:"risk_level"`
	RiskyKeywords   []string          `json:"risky_keywords"`
	ExternalSources map[string]string `json:"external_sources"`
	Advice          string            `json:"advice"`
	Cached          bool              `json:"cached"`
	PrivacyNotice   string            `json:"privacy_notice"`
	RiskExplanation string            `json:"risk_explanation,omitempty"`
	URLsFound       int               `json:"urls_found"`
	HighestRiskURL  *URLReport        `json:"highest_risk_url,omitempty"`
}

// URLProbes is the set of reputation sources consulted for each URL. A nil
// probe is reported as skipped.
type URLProbes struct {
	SafeBrowsing probes.URLProbe
	PhishTank    probes.URLProbe
	DomainAge    probes.URLProbe
	VirusTotal   probes.URLProbe
	OTX          probes.URLProbe
	MISP         probes.URLProbe
}

func (p URLProbes) byName() map[string]probes.URLProbe {
	return map[string]probes.URLProbe{
		SourceSafeBrowsing: p.SafeBrowsing,
		SourcePhishTank:    p.PhishTank,
		SourceDomainAge:    p.DomainAge,
		SourceVirusTotal:   p.VirusTotal,
		SourceOTX:          p.OTX,
		SourceMISP:         p.MISP,
	}
}

// Enricher scores messages by combining the text heuristic with the
// reputation of the URLs they contain. Per-URL reports are cached.
type Enricher struct {
	probes    map[string]probes.URLProbe
	cache     *cache.Cache
	deadline  time.Duration
	logger    *zap.Logger
	observers observers
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithDeadline bounds the concurrent probe fan-out for one URL.
func WithDeadline(d time.Duration) EnricherOption {
	return func(e *Enricher) {
		if d > 0 {
			e.deadline = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EnricherOption {
	return func(e *Enricher) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver adds a probe observer.
func WithObserver(o Observer) EnricherOption {
	return func(e *Enricher) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewEnricher creates an Enricher. reports caches URLReports and must not be nil.
func NewEnricher(p URLProbes, reports *cache.Cache, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		probes:   p.byName(),
		cache:    reports,
		deadline: DefaultRequestDeadline,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assess scores text. The local heuristic weighs 50%, the best reputation
// score of the highest-risk URL 30% and its domain-age score 20%.
func (e *Enricher) Assess(ctx context.Context, text string) FraudAssessment {
	ctx, span := tracer.Start(ctx, "scoring.Assess")
	defer span.End()

	basic := heuristics.AnalyzeText(text)
	urls := heuristics.ExtractURLs(text)

	var (
		reports   []URLReport
		highest   *URLReport
		bestRisk  float64
		anyCached bool
	)
	for _, u := range urls {
		report, cached := e.Report(ctx, u)
		anyCached = anyCached || cached
		reports = append(reports, report)

		if risk := report.Risk(); risk > bestRisk {
			bestRisk = risk
			highest = &report
		}
	}

	var reputation, domainAge float64
	if highest != nil {
		reputation = highest.ReputationScore
		domainAge = highest.DomainAgeScore
	}

	score := clamp(localWeight*float64(basic.Confidence)+reputationWeight*reputation+domainAgeWeight*domainAge, 0, 100)

	externalSources := map[string]string{}
	if len(reports) > 0 {
		externalSources = reports[0].ExternalSources
	}

	a := FraudAssessment{
		FraudScore:      int(math.RoundToEven(score)),
		RiskLevel:       levelFor(score),
		RiskyKeywords:   basic.RiskyKeywords,
		ExternalSources: externalSources,
		Advice:          basic.Advice,
		Cached:          anyCached,
		PrivacyNotice:   FraudPrivacyNotice,
		URLsFound:       len(urls),
		HighestRiskURL:  highest,
	}
	if score >= explanationThreshold {
		a.RiskExplanation = explain(basic, externalSources)
	}

	span.SetAttributes(
		attribute.Int("fortress.urls_found", len(urls)),
		attribute.Float64("fortress.fraud_score", score),
	)
	return a
}

// explain joins the local reason with the non-benign external findings.
func explain(basic heuristics.TextAnalysis, externalSources map[string]string) string {
	var parts []string
	if basic.Level != heuristics.TextSafe {
		parts = append(parts, basic.Reason)
	}
	for _, source := range externalSourceOrder {
		value, ok := externalSources[source]
		if !ok || benignFinding(value) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", source, value))
	}
	if len(parts) > maxExplanationParts {
		parts = parts[:maxExplanationParts]
	}
	return strings.Join(parts, " + ")
}

// benignFinding reports values that carry no risk signal: a safe verdict, with
// or without a qualifier, or anything unknown. "unsafe" is a finding.
func benignFinding(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	first, _, _ := strings.Cut(v, " ")
	return first == string(probes.StatusSafe) || strings.Contains(v, string(probes.StatusUnknown))
}

// Report returns the aggregate for one URL and whether it came from cache. On
// a miss every probe runs concurrently under the request deadline and the
// result is cached even when some probes failed, unless the caller went away.
func (e *Enricher) Report(ctx context.Context, rawURL string) (URLReport, bool) {
	var report URLReport
	if e.cache.Get(ctx, rawURL, &report) {
		return report, true
	}

	results := e.runProbes(ctx, rawURL)
	report = buildReport(rawURL, results)

	if ctx.Err() != nil {
		return report, false
	}
	e.cache.Set(context.WithoutCancel(ctx), rawURL, report)
	return report, false
}

func (e *Enricher) runProbes(ctx context.Context, rawURL string) map[string]probes.Result {
	ctx, span := tracer.Start(ctx, "scoring.URLProbes", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	out := make([]probes.Result, len(URLProbeNames))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range URLProbeNames {
		probe := e.probes[name]
		if probe == nil {
			out[i] = probes.Skipped(name, "probe not configured")
			continue
		}
		g.Go(func() error {
			out[i] = e.runProbe(gctx, name, probe, rawURL)
			return nil
		})
	}
	g.Wait()

	results := make(map[string]probes.Result, len(out))
	for i, name := range URLProbeNames {
		results[name] = out[i]
	}
	return results
}

func (e *Enricher) runProbe(ctx context.Context, name string, probe probes.URLProbe, rawURL string) probes.Result {
	ctx, span := tracer.Start(ctx, "probe."+name)
	defer span.End()

	start := time.Now()
	res := probe.CheckURL(ctx, rawURL)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.String("probe.status", string(res.Status)))
	e.observers.observe(name, res.Status, elapsed)

	if res.Status == probes.StatusError {
		e.logger.Warn("Probe failed",
			zap.String("probe", name),
			zap.String("source", res.Source),
			zap.String("reason", res.Reason),
			zap.Duration("elapsed", elapsed))
	}
	return res
}

// buildReport derives the reputation and domain-age scores and the
// human-readable external source summary from the probe results.
func buildReport(rawURL string, results map[string]probes.Result) URLReport {
	sb := results[SourceSafeBrowsing]
	pt := results[SourcePhishTank]
	age := results[SourceDomainAge]
	vt := results[SourceVirusTotal]
	otx := results[SourceOTX]
	misp := results[SourceMISP]

	sources := map[string]string{}
	if sb.Status != probes.StatusSkipped {
		v := string(sb.Status)
		if sb.ThreatType != "" {
			v += " (" + sb.ThreatType + ")"
		}
		sources["google_safe_browsing"] = v
	}
	if pt.Status != probes.StatusUnknown && pt.Status != probes.StatusSkipped {
		sources["phishtank"] = string(pt.Status)
	}
	if age.Status != probes.StatusError && age.Status != probes.StatusSkipped {
		sources["whois"] = age.Note
		if age.Note == "" {
			sources["whois"] = string(probes.StatusUnknown)
		}
	}
	if vt.Status != probes.StatusSkipped && vt.Malicious > 0 {
		sources["virustotal"] = fmt.Sprintf("%d detections", vt.Malicious)
	}
	for key, r := range map[string]probes.Result{"otx": otx, "misp": misp} {
		switch r.Status {
		case probes.StatusSkipped, probes.StatusError, probes.StatusSafe:
		default:
			sources[key] = string(r.Status)
		}
	}

	return URLReport{
		URL:             rawURL,
		ReputationScore: max(sb.Score, pt.Score, vt.Score, otx.Score, misp.Score),
		DomainAgeScore:  age.Score,
		ExternalSources: sources,
		APIResults:      results,
	}
}
