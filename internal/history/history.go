package history

import (
	"context"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventBuild     EventType = "build"
	EventLaunch    EventType = "launch"
	EventReady     EventType = "ready"
	EventTerminate EventType = "terminate"
	EventKill      EventType = "kill"
	EventExit      EventType = "exit"
	EventFailure   EventType = "failure"
)

// Record identifies the server instance an event belongs to.
type Record struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	Port   int    `json:"port"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// Event is one harness lifecycle event.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Memory keeps events in process. Used by tests and by the status API when no
// external sink is configured.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns events for runID in arrival order; an empty runID returns all.
func (m *Memory) Events(runID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		if runID == "" || e.Record.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Types is a convenience returning just the event types for runID.
func (m *Memory) Types(runID string) []EventType {
	evs := m.Events(runID)
	out := make([]EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

// Multi fans an event out to several sinks and returns the first error.
type Multi []Sink

func (ms Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
