package deceptions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrNotPublished is returned when an event exists but is not public.
var ErrNotPublished = errors.New("deception event not published")

// DefaultPageSize is the feed page size when none is requested.
const DefaultPageSize = 20

// Service logs events and serves the public feed.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a service over store.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// StoreName reports the backing store.
func (s *Service) StoreName() string { return s.store.Name() }

// Log normalizes, sanitizes and stores a submitted event. Storage errors are
// returned to the caller.
func (s *Service) Log(ctx context.Context, req LogRequest) (Event, error) {
	ev := NewEvent(req, s.now())
	if err := s.store.Insert(ctx, ev); err != nil {
		s.logger.Error("Failed to store deception event",
			zap.String("id", ev.ID), zap.String("store", s.store.Name()), zap.Error(err))
		return Event{}, err
	}

	s.logger.Info("Deception event logged",
		zap.String("id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("severity", ev.Severity))
	return ev, nil
}

// Public returns a page of published events, newest first. A failing store
// yields an empty page.
func (s *Service) Public(ctx context.Context, limit, skip int) []PublicEvent {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	skip = max(0, skip)

	events, err := s.store.ListPublished(ctx, limit, skip)
	if err != nil {
		s.logger.Warn("Listing deception events failed", zap.String("store", s.store.Name()), zap.Error(err))
		return []PublicEvent{}
	}

	out := make([]PublicEvent, 0, len(events))
	for _, e := range events {
		out = append(out, e.Public())
	}
	return out
}

// Get returns the details of a published event.
func (s *Service) Get(ctx context.Context, id string) (EventDetails, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Loading deception event failed", zap.String("id", id), zap.Error(err))
		}
		return EventDetails{}, err
	}
	if ev.Status != StatusPublished {
		return EventDetails{}, ErrNotPublished
	}
	return ev.Details(), nil
}
