package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/requestlog"
	"github.com/getmockd/mockcore/pkg/resolver"
	"github.com/getmockd/mockcore/pkg/websocket"
)

// MaxRequestBodySize bounds request bodies read by the handler.
const MaxRequestBodySize = 10 << 20

// Reserved probe paths.
const (
	HealthPath   = "/__mockcore/health"
	StatsPath    = "/__mockcore/stats"
	MetricsPath  = "/__mockcore/metrics"
	RequestsPath = "/__mockcore/requests"
	SessionsPath = "/__mockcore/sessions"
)

// Resolver answers requests. *resolver.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, req *mock.Request) (*mock.Response, error)
	ErrorResponse(err error) *mock.Response
	Stats() resolver.Stats
}

// SessionManager lists and closes WebSocket sessions. *websocket.Manager
// satisfies it.
type SessionManager interface {
	SessionList() []websocket.SessionInfo
	CloseSession(id, reason string) bool
}

// Handler is the http.Handler serving mocks.
type Handler struct {
	resolver  Resolver
	websocket http.Handler
	sessions  SessionManager
	metrics   http.Handler
	requests  requestlog.Store
	log       *slog.Logger
	started   time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithWebSocket routes upgrade requests to h. When h is also a
// SessionManager its sessions are served on SessionsPath.
func WithWebSocket(h http.Handler) HandlerOption {
	return func(hd *Handler) {
		hd.websocket = h
		if sm, ok := h.(SessionManager); ok {
			hd.sessions = sm
		}
	}
}

// WithMetrics serves h on MetricsPath.
func WithMetrics(h http.Handler) HandlerOption {
	return func(hd *Handler) { hd.metrics = h }
}

// WithRequestLog records every resolved request in store and serves the
// history on RequestsPath.
func WithRequestLog(store requestlog.Store) HandlerOption {
	return func(hd *Handler) { hd.requests = store }
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(hd *Handler) { hd.log = logging.Component(log, "engine") }
}

// NewHandler creates a Handler resolving through r.
func NewHandler(r Resolver, opts ...HandlerOption) *Handler {
	h := &Handler{
		resolver: r,
		log:      logging.Nop(),
		started:  time.Now(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if h.websocket != nil && websocket.IsUpgrade(r) {
		h.websocket.ServeHTTP(w, r)
		return
	}

	switch r.URL.Path {
	case HealthPath:
		h.handleHealth(w, r)
		return
	case StatsPath:
		h.handleStats(w, r)
		return
	case MetricsPath:
		if h.metrics != nil {
			h.metrics.ServeHTTP(w, r)
			return
		}
	}
	if h.requests != nil && underPath(r.URL.Path, RequestsPath) {
		h.handleRequests(w, r)
		return
	}
	if h.sessions != nil && underPath(r.URL.Path, SessionsPath) {
		h.handleSessions(w, r)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.log.Warn("request body too large", "path", r.URL.Path, "limit", MaxRequestBodySize)
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error":   "body_too_large",
				"message": "Request body exceeds maximum allowed size",
			})
			h.logRequest(start, r, nil, nil, &mock.Response{Status: http.StatusRequestEntityTooLarge, Source: mock.SourceError}, "body_too_large")
			return
		}
		h.log.Warn("failed to read request body", "path", r.URL.Path, "error", err)
	}

	req := newRequest(r, body)
	resp, err := h.resolver.Resolve(r.Context(), req)
	var errCode string
	if err != nil {
		resp = h.resolver.ErrorResponse(err)
		errCode = mock.KindOf(err).Code()
	}
	h.writeResponse(w, r, resp)
	h.logRequest(start, r, req, body, resp, errCode)

	h.log.Debug("request served",
		"method", req.Method,
		"path", req.Path,
		"status", resp.Status,
		"source", resp.Source,
		"duration", time.Since(start),
	)
}

func (h *Handler) logRequest(start time.Time, r *http.Request, req *mock.Request, body []byte, resp *mock.Response, errCode string) {
	if h.requests == nil {
		return
	}
	entry := &requestlog.Entry{
		Timestamp:    start,
		Protocol:     mock.ProtocolHTTP,
		Method:       r.Method,
		Path:         r.URL.Path,
		QueryString:  r.URL.RawQuery,
		Headers:      r.Header.Clone(),
		RemoteAddr:   r.RemoteAddr,
		Body:         requestlog.Truncate(body),
		BodySize:     len(body),
		Source:       resp.Source,
		Status:       resp.Status,
		ResponseBody: requestlog.Truncate(resp.Body),
		DurationMs:   int(time.Since(start).Milliseconds()),
		Error:        errCode,
	}
	if req != nil {
		entry.Route = req.Route
	}
	h.requests.Log(entry)
}

func underPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func newRequest(r *http.Request, body []byte) *mock.Request {
	req := mock.NewRequest(r.Method, r.URL.Path)
	req.Query = r.URL.Query()
	req.Header = r.Header.Clone()
	req.Body = body
	return req
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, resp *mock.Response) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead || len(resp.Body) == 0 {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		h.log.Debug("write response", "path", r.URL.Path, "error", err)
	}
}

// handleHealth handles the liveness probe endpoint.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"resolver": h.resolver.Stats(),
	}
	if h.sessions != nil {
		stats["sessions"] = len(h.sessions.SessionList())
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
