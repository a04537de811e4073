package websocket

import (
	"context"
	"log/slog"
	mathrand "math/rand/v2"
	"sync"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/logging"
)

// compiledRule pairs a matcher rule with its bind paths and replies.
type compiledRule struct {
	rule  *MessageRule
	binds map[string]jp.Expr
}

// Endpoint is a compiled EndpointConfig plus its Hub.
type Endpoint struct {
	cfg   EndpointConfig
	rules *matching.RuleSet
	byID  map[string]*compiledRule
	hub   *Hub
	log   *slog.Logger
}

func newEndpoint(cfg EndpointConfig, log *slog.Logger) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	log = logging.OrNop(log).With("endpoint", cfg.Path)

	matchRules := cfg.matchRules()
	e := &Endpoint{
		cfg:   cfg,
		rules: matching.Compile(matchRules, log),
		byID:  make(map[string]*compiledRule, len(cfg.Rules)),
		log:   log,
	}
	for i := range cfg.Rules {
		cr := &compiledRule{rule: &cfg.Rules[i], binds: make(map[string]jp.Expr, len(cfg.Rules[i].Bind))}
		for name, path := range cfg.Rules[i].Bind {
			// already validated
			cr.binds[name], _ = matching.CompileJSONPath(path)
		}
		e.byID[matchRules[i].ID] = cr
	}
	e.hub = newHub(e, log)
	return e, nil
}

// Path returns the endpoint path.
func (e *Endpoint) Path() string {
	return e.cfg.Path
}

// match returns the first message rule matching data, or nil.
func (e *Endpoint) match(data []byte, vars map[string]string) *compiledRule {
	c := e.rules.MatchMessage(data, vars)
	if c == nil {
		return nil
	}
	return e.byID[c.ID]
}

// Hub fans broadcast timer output out to every registered session. The
// broadcast timers run only while at least one session is registered.
type Hub struct {
	endpoint *Endpoint
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	cancel   context.CancelFunc
	timers   *sync.WaitGroup
	stopped  bool
}

func newHub(e *Endpoint, log *slog.Logger) *Hub {
	return &Hub{endpoint: e, log: log, sessions: make(map[string]*Session)}
}

// Register adds s to the broadcast set and starts the broadcast timers when
// s is the first session.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
	if h.cancel == nil && !h.stopped {
		h.startLocked()
	}
}

// Unregister removes s and stops the broadcast timers once no session is
// left. A later Register starts them again.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	if len(h.sessions) > 0 {
		h.mu.Unlock()
		return
	}
	cancel, timers := h.cancel, h.timers
	h.cancel, h.timers = nil, nil
	h.mu.Unlock()
	halt(cancel, timers)
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish enqueues msgs on every session without blocking. A session whose
// queue is full misses the broadcast.
func (h *Hub) Publish(msgs []Message) int {
	delivered := 0
	for _, s := range h.snapshot() {
		if s.offer(event{kind: eventBroadcast, messages: msgs}) {
			delivered++
		} else {
			h.log.Debug("broadcast dropped, queue full", "session", s.ID())
		}
	}
	return delivered
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// running reports whether the broadcast timers are active.
func (h *Hub) running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancel != nil
}

func (h *Hub) startLocked() {
	var timers sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	started := false
	for i := range h.endpoint.cfg.Timers {
		t := h.endpoint.cfg.Timers[i]
		if !t.Broadcast {
			continue
		}
		started = true
		timers.Add(1)
		go func() {
			defer timers.Done()
			runTimer(ctx, t, func() { h.Publish(t.Messages) })
		}()
	}
	if !started {
		cancel()
		return
	}
	h.cancel, h.timers = cancel, &timers
}

// Stop halts the broadcast timers for good.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	cancel, timers := h.cancel, h.timers
	h.cancel, h.timers = nil, nil
	h.mu.Unlock()
	halt(cancel, timers)
}

func halt(cancel context.CancelFunc, timers *sync.WaitGroup) {
	if cancel == nil {
		return
	}
	cancel()
	timers.Wait()
}

// runTimer calls fire every interval (+ jitter) until ctx is done.
func runTimer(ctx context.Context, t Timer, fire func()) {
	for {
		wait := t.Interval.Duration()
		if t.Jitter > 0 {
			wait += time.Duration(mathrand.Int64N(int64(t.Jitter)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fire()
		}
	}
}
