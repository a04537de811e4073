package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
)

// EventType names what happened.
type EventType string

const (
	EventResolved          EventType = "resolved"
	EventNoMatch           EventType = "no_match"
	EventUpstreamFailed    EventType = "upstream_failed"
	EventValidationFailed  EventType = "validation_failed"
	EventFaultInjected     EventType = "fault_injected"
	EventTransformFailed   EventType = "transform_failed"
	EventSynthesisFailed   EventType = "synthesis_failed"
	EventSessionViolation  EventType = "session_violation"
	EventSessionTransition EventType = "session_transition"
)

// Event is one structured record emitted by the core for an external collector.
type Event struct {
	Type      EventType     `json:"type"`
	Time      time.Time     `json:"time"`
	Route     string        `json:"route,omitempty"`
	Method    string        `json:"method,omitempty"`
	Path      string        `json:"path,omitempty"`
	Source    mock.Source   `json:"source,omitempty"`
	RuleID    string        `json:"ruleId,omitempty"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	Fault     string        `json:"fault,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// EventSink receives events. Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events to a logger at debug level, warnings at warn.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink over log.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: logging.Component(log, "events")}
}

// Emit logs e.
func (s *LogSink) Emit(e Event) {
	level := slog.LevelDebug
	switch e.Type {
	case EventUpstreamFailed, EventValidationFailed, EventTransformFailed, EventSynthesisFailed, EventSessionViolation:
		level = slog.LevelWarn
	}
	attrs := []any{"route", e.Route, "duration", e.Duration}
	if e.Source != "" {
		attrs = append(attrs, "source", e.Source)
	}
	if e.Status != 0 {
		attrs = append(attrs, "status", e.Status)
	}
	if e.RuleID != "" {
		attrs = append(attrs, "rule", e.RuleID)
	}
	if e.Fault != "" {
		attrs = append(attrs, "fault", e.Fault)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session", e.SessionID)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	s.log.Log(context.Background(), level, string(e.Type), attrs...)
}

// MemorySink keeps events in memory. Useful for tests and tooling.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Of returns the events of type t.
func (s *MemorySink) Of(t EventType) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// TeeSink fans events out to several sinks.
type TeeSink []EventSink

// Emit forwards e to every sink.
func (t TeeSink) Emit(e Event) {
	for _, s := range t {
		s.Emit(e)
	}
}
