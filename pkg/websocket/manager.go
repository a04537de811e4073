package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/resolver"
)

// Manager owns the configured endpoints and the sessions running on them.
type Manager struct {
	log  *slog.Logger
	sink resolver.EventSink

	base   context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	smu      sync.RWMutex
	sessions map[string]*Session
}

// SessionInfo describes a running session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Connected time.Time `json:"connected"`
	Sent      int64     `json:"sent"`
	Received  int64     `json:"received"`
}

// NewManager compiles cfg. Invalid endpoints are reported as ConfigInvalid.
func NewManager(cfg Config, sink resolver.EventSink, log *slog.Logger) (*Manager, error) {
	log = logging.Component(log, "websocket")
	endpoints, err := buildEndpoints(cfg, log)
	if err != nil {
		return nil, err
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:       log,
		sink:      sink,
		base:      base,
		cancel:    cancel,
		endpoints: endpoints,
		sessions:  make(map[string]*Session),
	}, nil
}

func buildEndpoints(cfg Config, log *slog.Logger) (map[string]*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, configInvalid(err)
	}
	endpoints := make(map[string]*Endpoint, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		e, err := newEndpoint(cfg.Endpoints[i], log)
		if err != nil {
			return nil, configInvalid(fmt.Errorf("endpoints[%d]: %w", i, err))
		}
		endpoints[e.Path()] = e
	}
	return endpoints, nil
}

// Replace swaps in a new endpoint set. Running sessions keep the endpoint
// they started on; the old broadcast timers stop.
func (m *Manager) Replace(cfg Config) error {
	endpoints, err := buildEndpoints(cfg, m.log)
	if err != nil {
		return err
	}
	m.mu.Lock()
	old := m.endpoints
	m.endpoints = endpoints
	m.mu.Unlock()
	for _, e := range old {
		e.hub.Stop()
	}
	return nil
}

// Endpoint returns the endpoint serving path.
func (m *Manager) Endpoint(path string) (*Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[path]
	return e, ok
}

// Paths returns the configured endpoint paths.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.endpoints))
	for p := range m.endpoints {
		paths = append(paths, p)
	}
	return paths
}

// Sessions returns the number of running sessions, including those still
// on endpoints replaced by a reload.
func (m *Manager) Sessions() int {
	m.smu.RLock()
	defer m.smu.RUnlock()
	return len(m.sessions)
}

// SessionList describes the running sessions, oldest first.
func (m *Manager) SessionList() []SessionInfo {
	m.smu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.smu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Connected.Equal(out[j].Connected) {
			return out[i].ID < out[j].ID
		}
		return out[i].Connected.Before(out[j].Connected)
	})
	return out
}

// CloseSession asks the session with id to close and reports whether it was
// running.
func (m *Manager) CloseSession(id, reason string) bool {
	m.smu.RLock()
	s, ok := m.sessions[id]
	m.smu.RUnlock()
	if !ok {
		return false
	}
	s.Close(reason)
	return true
}

func (m *Manager) track(s *Session) {
	m.smu.Lock()
	m.sessions[s.ID()] = s
	m.smu.Unlock()
}

func (m *Manager) untrack(s *Session) {
	m.smu.Lock()
	delete(m.sessions, s.ID())
	m.smu.Unlock()
}

// Attach creates a session for conn on the endpoint at path. The caller
// drives it with Run.
func (m *Manager) Attach(path string, conn Conn) (*Session, error) {
	e, ok := m.Endpoint(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, path)
	}
	return m.newSession(e, conn), nil
}

// Broadcast sends msgs to every session on path and returns how many
// sessions accepted them.
func (m *Manager) Broadcast(path string, msgs []Message) (int, error) {
	e, ok := m.Endpoint(path)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEndpointNotFound, path)
	}
	return e.hub.Publish(msgs), nil
}

func (m *Manager) newSession(e *Endpoint, conn Conn) *Session {
	s := newSession(e, conn, m.sink)
	s.tracker = m
	return s
}

// CloseAll ends every session and stops all timers.
func (m *Manager) CloseAll() {
	m.cancel()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.endpoints {
		e.hub.Stop()
	}
}
