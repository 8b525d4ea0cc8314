// Package scoring combines local heuristics and external probe signals into
// bounded, explainable risk scores.
package scoring

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lvonguyen/fortress/internal/probes"
)

var tracer = otel.Tracer("github.com/lvonguyen/fortress/internal/scoring")

// Observer receives the outcome of every probe invocation.
type Observer interface {
	ObserveProbe(source string, status probes.Status, elapsed time.Duration)
}

// ProbeUsage counts calls to one probe.
type ProbeUsage struct {
	Calls    int64            `json:"calls"`
	ByStatus map[string]int64 `json:"by_status"`
}

// Usage is an Observer that counts probe calls by source and status. It is
// safe for concurrent use.
type Usage struct {
	mu      sync.Mutex
	sources map[string]*ProbeUsage
}

// NewUsage creates an empty counter set.
func NewUsage() *Usage {
	return &Usage{sources: make(map[string]*ProbeUsage)}
}

// ObserveProbe records one call.
func (u *Usage) ObserveProbe(source string, status probes.Status, _ time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	pu, ok := u.sources[source]
	if !ok {
		pu = &ProbeUsage{ByStatus: make(map[string]int64)}
		u.sources[source] = pu
	}
	pu.Calls++
	pu.ByStatus[string(status)]++
}

// Snapshot returns a copy of the counters. Sources in names that were never
// called are reported with zero calls.
func (u *Usage) Snapshot(names ...string) map[string]ProbeUsage {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[string]ProbeUsage, len(u.sources)+len(names))
	for _, name := range names {
		out[name] = ProbeUsage{ByStatus: map[string]int64{}}
	}
	for name, pu := range u.sources {
		byStatus := make(map[string]int64, len(pu.ByStatus))
		for k, v := range pu.ByStatus {
			byStatus[k] = v
		}
		out[name] = ProbeUsage{Calls: pu.Calls, ByStatus: byStatus}
	}
	return out
}

type observers []Observer

func (o observers) observe(source string, status probes.Status, elapsed time.Duration) {
	for _, obs := range o {
		obs.ObserveProbe(source, status, elapsed)
	}
}

// RiskLevel is the coarse band of an aggregate score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// levelFor maps a 0-100 score to its band.
func levelFor(score float64) RiskLevel {
	switch {
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
