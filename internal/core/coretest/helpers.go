package coretest

import (
	"sync"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
)

func domainRoom(s string) domain.RoomID { return domain.RoomID(s) }
func domainUser(s string) domain.UserID { return domain.UserID(s) }

// Sink records published events.
type Sink struct {
	mu     sync.Mutex
	events []core.Event
}

func (s *Sink) Publish(e core.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *Sink) Events() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.events...)
}

func (s *Sink) Of(kind core.EventKind) []core.Event {
	var out []core.Event
	for _, e := range s.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Errors returns the payloads of every error event.
func (s *Sink) Errors() []core.ErrorView {
	var out []core.ErrorView
	for _, e := range s.Of(core.EventError) {
		if v, ok := e.Data.(core.ErrorView); ok {
			out = append(out, v)
		}
	}
	return out
}
