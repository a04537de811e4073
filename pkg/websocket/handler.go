package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"

	ws "github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/resolver"
)

// maxCloseReason is the largest close reason a control frame can carry.
const maxCloseReason = 123

type coderConn struct {
	c *ws.Conn
}

func (c coderConn) Write(ctx context.Context, data []byte) error {
	return c.c.Write(ctx, ws.MessageText, data)
}

func (c coderConn) Close(reason string) error {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return c.c.Close(ws.StatusNormalClosure, reason)
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP accepts a WebSocket connection on a configured endpoint and runs
// a session on it until either side closes.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e, ok := m.Endpoint(r.URL.Path)
	if !ok {
		http.Error(w, "WebSocket endpoint not found", http.StatusNotFound)
		return
	}

	c, err := ws.Accept(w, r, &ws.AcceptOptions{
		Subprotocols:       e.cfg.Subprotocols,
		InsecureSkipVerify: true,
		CompressionMode:    ws.CompressionDisabled,
	})
	if err != nil {
		m.log.Debug("websocket accept failed", "path", r.URL.Path, "error", err)
		return
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(e.cfg.MaxMessageSize)

	sess := m.newSession(e, coderConn{c: c})
	m.log.Debug("session opened", "session", sess.ID(), "path", e.Path(), "remote", r.RemoteAddr)

	g, ctx := errgroup.WithContext(m.base)
	g.Go(func() error {
		return sess.Run(ctx)
	})
	g.Go(func() error {
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return m.readError(sess, err)
			}
			if err := sess.Deliver(ctx, data); err != nil {
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errPeerClosed) && !errors.Is(err, context.Canceled) {
		m.log.Warn("session ended with error", "session", sess.ID(), "error", err)
	}
	sent, received := sess.Stats()
	m.log.Debug("session closed", "session", sess.ID(), "sent", sent, "received", received)
}

// readError classifies a read failure. Anything other than a clean close or
// our own shutdown is a protocol violation local to this session.
func (m *Manager) readError(sess *Session, err error) error {
	if ws.CloseStatus(err) != -1 {
		return errPeerClosed
	}
	if errors.Is(err, context.Canceled) || sess.State() != StateActive {
		return errPeerClosed
	}
	violation := mock.Wrap(mock.KindSessionProtocol, "websocket.read", err)
	sess.emit(resolver.Event{Type: resolver.EventSessionViolation, Error: violation.Error()})
	return violation
}
