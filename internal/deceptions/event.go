// Package deceptions records deception events reported by the browser
// extension and serves them as a sanitized public awareness feed.
package deceptions

import (
	"time"

	"github.com/google/uuid"
)

// Event defaults.
const (
	StatusPublished = "published"

	defaultTitle        = "Suspicious Activity Detected"
	defaultSummary      = "Potential security threat detected."
	defaultType         = "Suspicious Link"
	defaultThreatSource = "Unknown"
	defaultSeverity     = "Medium"
	defaultMethod       = "Extension"
	defaultSource       = "Browser Extension"
)

// TimelineStep is one stage of a deception timeline.
type TimelineStep struct {
	Timestamp string `json:"timestamp,omitempty"`
	Method    string `json:"method,omitempty"`
	Action    string `json:"action,omitempty"`
	Details   string `json:"details,omitempty"`
	Result    string `json:"result,omitempty"`
}

// Timeline traces an event from detection to user protection.
type Timeline struct {
	Detection           *TimelineStep `json:"detection"`
	DeceptionDeployed   *TimelineStep `json:"deception_deployed,omitempty"`
	AttackerInteraction *TimelineStep `json:"attacker_interaction,omitempty"`
	UserProtected       *TimelineStep `json:"user_protected,omitempty"`
}

// Metadata describes where an event came from.
type Metadata struct {
	Source    string `json:"source"`
	Sanitized bool   `json:"sanitized"`
}

// Event is a stored deception event. Events are immutable once logged.
type Event struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Type           string   `json:"type"`
	ThreatSource   string   `json:"threat_source"`
	ProtectedItems []string `json:"protected_items"`
	Severity       string   `json:"severity"`
	Status         string   `json:"status"`
	Timestamp      string   `json:"timestamp"`
	Timeline       Timeline `json:"timeline"`
	Metadata       Metadata `json:"metadata"`
}

// LogRequest is an event as submitted by a client. Every field is optional.
type LogRequest struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Reason         string    `json:"reason"`
	Type           string    `json:"type"`
	ThreatSource   string    `json:"threat_source"`
	URL            string    `json:"url"`
	ProtectedItems []string  `json:"protected_items"`
	Severity       string    `json:"severity"`
	Timestamp      string    `json:"timestamp"`
	Timeline       *Timeline `json:"timeline"`
	Source         string    `json:"source"`
}

// NewEvent fills defaults, publishes and sanitizes a submitted event.
func NewEvent(req LogRequest, now time.Time) Event {
	nowISO := now.UTC().Format(time.RFC3339)

	ev := Event{
		ID:             firstNonEmpty(req.ID, uuid.NewString()),
		Title:          firstNonEmpty(req.Title, defaultTitle),
		Summary:        firstNonEmpty(req.Summary, req.Reason, defaultSummary),
		Type:           firstNonEmpty(req.Type, defaultType),
		ThreatSource:   firstNonEmpty(req.ThreatSource, req.URL, defaultThreatSource),
		ProtectedItems: req.ProtectedItems,
		Severity:       firstNonEmpty(req.Severity, defaultSeverity),
		Status:         StatusPublished,
		Timestamp:      firstNonEmpty(req.Timestamp, nowISO),
		Metadata:       Metadata{Source: firstNonEmpty(req.Source, defaultSource)},
	}
	if ev.ProtectedItems == nil {
		ev.ProtectedItems = []string{}
	}
	if req.Timeline != nil {
		ev.Timeline = req.Timeline.clone()
	} else {
		ev.Timeline = Timeline{Detection: &TimelineStep{
			Timestamp: nowISO,
			Method:    firstNonEmpty(req.Source, defaultMethod),
		}}
	}
	return Sanitize(ev)
}

func (t Timeline) clone() Timeline {
	cp := func(s *TimelineStep) *TimelineStep {
		if s == nil {
			return nil
		}
		c := *s
		return &c
	}
	return Timeline{
		Detection:           cp(t.Detection),
		DeceptionDeployed:   cp(t.DeceptionDeployed),
		AttackerInteraction: cp(t.AttackerInteraction),
		UserProtected:       cp(t.UserProtected),
	}
}

// PublicEvent is the feed projection of an event.
type PublicEvent struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	Type           string         `json:"type"`
	ThreatSource   string         `json:"threat_source"`
	ProtectedItems []string       `json:"protected_items"`
	Severity       string         `json:"severity"`
	Timestamp      string         `json:"timestamp"`
	Timeline       PublicTimeline `json:"timeline"`
}

// PublicTimeline exposes only the detection step.
type PublicTimeline struct {
	Detection *TimelineStep `json:"detection"`
}

// Public projects the event for the feed.
func (e Event) Public() PublicEvent {
	return PublicEvent{
		ID:             e.ID,
		Title:          e.Title,
		Summary:        e.Summary,
		Type:           e.Type,
		ThreatSource:   e.ThreatSource,
		ProtectedItems: e.ProtectedItems,
		Severity:       firstNonEmpty(e.Severity, defaultSeverity),
		Timestamp:      e.Timestamp,
		Timeline:       PublicTimeline{Detection: e.Timeline.Detection},
	}
}

// EventDetails is the detail projection of an event.
type EventDetails struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Type           string   `json:"type"`
	ProtectedItems []string `json:"protected_items"`
	Severity       string   `json:"severity"`
	Timestamp      string   `json:"timestamp"`
	Timeline       Timeline `json:"timeline"`
	Metadata       Metadata `json:"metadata"`
}

// Details projects the event for the detail view.
func (e Event) Details() EventDetails {
	return EventDetails{
		ID:             e.ID,
		Title:          e.Title,
		Summary:        e.Summary,
		Type:           e.Type,
		ProtectedItems: e.ProtectedItems,
		Severity:       firstNonEmpty(e.Severity, defaultSeverity),
		Timestamp:      e.Timestamp,
		Timeline:       e.Timeline,
		Metadata:       e.Metadata,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
