// Package inmem keeps published run events in memory for tests and for
// inspecting a finished run.
package inmem

import (
	"context"
	"errors"
	"sync"

	"github.com/Gurpartap/reportagent/agent"
)

// DefaultLimit bounds how many events a Sink retains.
const DefaultLimit = 4096

type Option func(*Sink)

// WithLimit sets how many events are retained; older events are dropped
// first. A non-positive limit keeps the default.
func WithLimit(limit int) Option {
	return func(s *Sink) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// Sink stores validated events in publish order.
type Sink struct {
	limit int

	mu      sync.RWMutex
	events  []agent.Event
	dropped int
}

var _ agent.EventSink = (*Sink)(nil)

func New(opts ...Option) *Sink {
	s := &Sink{limit: DefaultLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Publish(ctx context.Context, event agent.Event) error {
	if ctx == nil {
		return errors.New("context is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := agent.ValidateEvent(event); err != nil {
		return err
	}

	stored := agent.CloneEvent(event)
	s.mu.Lock()
	defer s.mu.Unlock()
	if over := len(s.events) + 1 - s.limit; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
		s.dropped += over
	}
	s.events = append(s.events, stored)
	return nil
}

// Events returns deep copies of the retained events.
func (s *Sink) Events() []agent.Event {
	return s.filter(func(agent.Event) bool { return true })
}

// OfType filters a snapshot by event type, keeping publish order.
func (s *Sink) OfType(eventType agent.EventType) []agent.Event {
	return s.filter(func(event agent.Event) bool { return event.Type == eventType })
}

// ForRun returns the retained events of one run.
func (s *Sink) ForRun(runID agent.RunID) []agent.Event {
	return s.filter(func(event agent.Event) bool { return event.RunID == runID })
}

// Dropped counts events discarded to stay within the limit.
func (s *Sink) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *Sink) filter(keep func(agent.Event) bool) []agent.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]agent.Event, 0, len(s.events))
	for i := range s.events {
		if keep(s.events[i]) {
			out = append(out, agent.CloneEvent(s.events[i]))
		}
	}
	return out
}
