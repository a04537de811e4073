package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/mockcore/internal/id"
	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/resolver"
	"github.com/getmockd/mockcore/pkg/template"
)

// State is a session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var transitions = map[State][]State{
	StateConnecting: {StateActive, StateClosing},
	StateActive:     {StateClosing},
	StateClosing:    {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrSessionClosed is returned when sending on a session that is not Active.
var ErrSessionClosed = errors.New("websocket: session not active")

// Conn is the transport a Session writes to.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

type eventKind int

const (
	eventInbound eventKind = iota + 1
	eventTick
	eventBroadcast
	eventClose
)

type event struct {
	kind     eventKind
	data     []byte
	messages []Message
	reason   string
}

// Session is one scripted connection. All of its state is owned by Run.
type Session struct {
	id       string
	endpoint *Endpoint
	conn     Conn
	events   resolver.EventSink
	log      *slog.Logger

	state atomic.Int32
	queue chan event
	vars  map[string]string

	sent     atomic.Int64
	received atomic.Int64
	started  time.Time
	tracker  *Manager

	done     chan struct{}
	doneOnce sync.Once
}

func newSession(e *Endpoint, conn Conn, sink resolver.EventSink) *Session {
	s := &Session{
		id:       id.UUID(),
		endpoint: e,
		conn:     conn,
		events:   sink,
		queue:    make(chan event, e.cfg.QueueSize),
		vars:     make(map[string]string),
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	s.log = e.log.With("session", s.id)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state. Safe from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats returns the number of frames sent and received.
func (s *Session) Stats() (sent, received int64) {
	return s.sent.Load(), s.received.Load()
}

// Info returns a point-in-time description of the session.
func (s *Session) Info() SessionInfo {
	sent, received := s.Stats()
	return SessionInfo{
		ID:        s.id,
		Path:      s.endpoint.cfg.Path,
		State:     s.State().String(),
		Connected: s.started,
		Sent:      sent,
		Received:  received,
	}
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver queues an inbound frame, blocking while the queue is full so a
// fast client is slowed down rather than dropped.
func (s *Session) Deliver(ctx context.Context, data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.received.Add(1)
	select {
	case s.queue <- event{kind: eventInbound, data: data}:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close asks the session loop to shut down.
func (s *Session) Close(reason string) {
	select {
	case s.queue <- event{kind: eventClose, reason: reason}:
	case <-s.done:
	default:
		// queue full: the loop will still observe ctx cancellation
		s.log.Debug("close event dropped, queue full")
	}
}

// offer enqueues ev without blocking.
func (s *Session) offer(ev event) bool {
	if s.State() != StateActive {
		return false
	}
	select {
	case s.queue <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) transition(to State) error {
	from := s.State()
	if !canTransition(from, to) {
		err := mock.NewError(mock.KindSessionProtocol, "websocket.transition",
			fmt.Sprintf("illegal transition %s -> %s", from, to))
		s.emit(resolver.Event{Type: resolver.EventSessionViolation, Error: err.Error()})
		return err
	}
	s.state.Store(int32(to))
	s.log.Debug("session state", "from", from, "to", to)
	s.emit(resolver.Event{Type: resolver.EventSessionTransition, Detail: to.String()})
	return nil
}

// Run drives the session until ctx is cancelled, a rule closes it, or Close
// is called. It enters Active, sends the on-connect script, starts the
// per-connection timers, and processes queued events one at a time.
func (s *Session) Run(ctx context.Context) error {
	if err := s.transition(StateActive); err != nil {
		return err
	}
	s.endpoint.hub.Register(s)
	if s.tracker != nil {
		s.tracker.track(s)
	}

	ctx, cancel := context.WithCancel(ctx)
	var timers sync.WaitGroup
	defer func() {
		cancel()
		s.endpoint.hub.Unregister(s)
		if s.tracker != nil {
			s.tracker.untrack(s)
		}
		timers.Wait()
		_ = s.transition(StateClosed)
		s.doneOnce.Do(func() { close(s.done) })
	}()

	if err := s.sendAll(ctx, s.endpoint.cfg.OnConnect, template.MessageContext(nil, s.vars)); err != nil {
		return s.closing(err.Error())
	}

	for i := range s.endpoint.cfg.Timers {
		t := s.endpoint.cfg.Timers[i]
		if t.Broadcast {
			continue
		}
		timers.Add(1)
		go func() {
			defer timers.Done()
			runTimer(ctx, t, func() {
				if !s.offer(event{kind: eventTick, messages: t.Messages}) {
					s.log.Debug("timer tick dropped", "timer", t.Name)
				}
			})
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return s.closing("context done")
		case ev := <-s.queue:
			stop, err := s.handle(ctx, ev)
			if err != nil || stop {
				reason := ev.reason
				if err != nil {
					reason = err.Error()
				}
				return s.closing(reason)
			}
		}
	}
}

// closing moves to Closing and closes the transport. Timers observe the
// cancelled context when Run's deferred cleanup runs.
func (s *Session) closing(reason string) error {
	if err := s.transition(StateClosing); err != nil {
		return err
	}
	if err := s.conn.Close(reason); err != nil {
		s.log.Debug("close transport", "error", err)
	}
	return nil
}

func (s *Session) handle(ctx context.Context, ev event) (bool, error) {
	switch ev.kind {
	case eventClose:
		return true, nil
	case eventTick, eventBroadcast:
		return false, s.sendAll(ctx, ev.messages, template.MessageContext(nil, s.vars))
	case eventInbound:
		rule := s.endpoint.match(ev.data, s.vars)
		if rule == nil {
			s.log.Debug("message unmatched", "bytes", len(ev.data))
			return false, nil
		}
		s.bind(rule, ev.data)
		if err := s.sendAll(ctx, rule.rule.Messages, template.MessageContext(ev.data, s.vars)); err != nil {
			return false, err
		}
		return rule.rule.Close, nil
	}
	return false, nil
}

func (s *Session) bind(rule *compiledRule, data []byte) {
	if len(rule.binds) == 0 {
		return
	}
	var doc any
	if json.Unmarshal(data, &doc) != nil {
		return
	}
	for name, x := range rule.binds {
		if v, ok := matching.Extract(x, doc); ok {
			s.vars[name] = v
		}
	}
}

func (s *Session) sendAll(ctx context.Context, msgs []Message, tctx *template.Context) error {
	for _, m := range msgs {
		if m.Delay > 0 {
			t := time.NewTimer(m.Delay.Duration())
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		data, err := m.render(tctx)
		if err != nil {
			s.log.Warn("message render failed", "error", err)
			continue
		}
		if err := s.send(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) send(ctx context.Context, data []byte) error {
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if err := s.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	s.sent.Add(1)
	return nil
}

func (s *Session) emit(e resolver.Event) {
	if s.events == nil {
		return
	}
	e.Time = time.Now()
	e.Route = s.endpoint.cfg.Path
	e.SessionID = s.id
	s.events.Emit(e)
}
