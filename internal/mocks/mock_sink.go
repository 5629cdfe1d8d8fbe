package mocks

import (
	"context"
	"sync"

	"github.com/atakanes/seatlock/internal/domain"
)

// CaptureSink records every published event for assertions. Set Err to make
// Publish fail.
type CaptureSink struct {
	mu     sync.Mutex
	events []domain.Event

	Err error
}

func (s *CaptureSink) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, event)

	return nil
}

func (s *CaptureSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.Event(nil), s.events...)
}

func (s *CaptureSink) ByType(eventType domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}

	return out
}
