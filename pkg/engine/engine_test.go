package engine

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/registry"
	"github.com/getmockd/mockcore/pkg/resolver"
	"github.com/getmockd/mockcore/pkg/websocket"
)

func newResolver(t testing.TB) *resolver.Resolver {
	t.Helper()
	reg, err := registry.Load([]registry.Operation{
		{Method: "GET", Path: "/users/{id}"},
		{Method: "POST", Path: "/echo"},
	})
	require.NoError(t, err)
	rules := []mock.Rule{
		{
			Route: "GET /users/{id}",
			Response: &mock.RuleResponse{
				Status:   200,
				Headers:  map[string]string{"Content-Type": "application/json", "X-Mock": "yes"},
				Body:     `{"id":"{{request.pathParam.id}}"}`,
				Template: true,
			},
		},
		{
			Route:      "POST /echo",
			Predicates: []mock.Predicate{{Kind: mock.PredicateJSONPath, Path: "$.ping", Value: true}},
			Response:   &mock.RuleResponse{Status: 201, Body: map[string]any{"pong": true}},
		},
	}
	return resolver.New(resolver.Options{},
		resolver.WithRegistry(registry.NewHolder(reg)),
		resolver.WithRules(matching.NewRuleBook(rules, nil)),
	)
}

func TestHandler_Resolves(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newResolver(t)))
	t.Cleanup(srv.Close)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
		wantError  string
	}{
		{name: "templated rule", method: "GET", path: "/users/42", wantStatus: 200, wantBody: `{"id":"42"}`},
		{name: "body predicate", method: "POST", path: "/echo", body: `{"ping":true}`, wantStatus: 201, wantBody: `{"pong":true}`},
		{name: "predicate miss", method: "POST", path: "/echo", body: `{"ping":false}`, wantStatus: 404, wantError: "no_match"},
		{name: "undeclared route", method: "GET", path: "/nowhere", wantStatus: 404, wantError: "no_match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, string(body))
			}
			if tt.wantError != "" {
				var eb resolver.ErrorBody
				require.NoError(t, json.Unmarshal(body, &eb))
				assert.Equal(t, tt.wantError, eb.Error)
			}
		})
	}
}

func TestHandler_ResponseHeadersAndHEAD(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newResolver(t)))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Head(srv.URL + "/users/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Mock"))
	assert.Empty(t, body)
}

func TestHandler_BodyTooLarge(t *testing.T) {
	h := NewHandler(newResolver(t))
	big := strings.Repeat("x", MaxRequestBodySize+1)
	req := httptest.NewRequest("POST", "/echo", strings.NewReader(big))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "body_too_large")
}

func TestHandler_Probes(t *testing.T) {
	r := newResolver(t)
	h := NewHandler(r)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", HealthPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/users/1", nil))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", StatsPath, nil))
	var stats struct {
		Resolver resolver.Stats `json:"resolver"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Resolver.Requests)
	assert.Equal(t, int64(1), stats.Resolver.Rule)
}

func TestHandler_WebSocketUpgrade(t *testing.T) {
	m, err := websocket.NewManager(websocket.Config{Endpoints: []websocket.EndpointConfig{{
		Path:      "/ws",
		OnConnect: []websocket.Message{{Value: "READY"}},
	}}}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.CloseAll)

	srv := httptest.NewServer(NewHandler(newResolver(t), WithWebSocket(m)))
	t.Cleanup(srv.Close)

	client, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "READY", string(data))

	// plain requests still reach the resolver
	resp, err := srv.Client().Get(srv.URL + "/users/9")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_SessionsEndpoint(t *testing.T) {
	m, err := websocket.NewManager(websocket.Config{Endpoints: []websocket.EndpointConfig{{
		Path:      "/ws",
		OnConnect: []websocket.Message{{Value: "READY"}},
	}}}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.CloseAll)

	srv := httptest.NewServer(NewHandler(newResolver(t), WithWebSocket(m)))
	t.Cleanup(srv.Close)

	client, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	require.NoError(t, err)

	var list SessionList
	require.Eventually(t, func() bool {
		resp, err := srv.Client().Get(srv.URL + SessionsPath)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&list) == nil && list.Count == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "/ws", list.Sessions[0].Path)
	assert.Equal(t, "active", list.Sessions[0].State)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown session", http.MethodDelete, SessionsPath + "/nope", http.StatusNotFound},
		{"delete without id", http.MethodDelete, SessionsPath, http.StatusMethodNotAllowed},
		{"post", http.MethodPost, SessionsPath, http.StatusMethodNotAllowed},
		{"close session", http.MethodDelete, SessionsPath + "/" + list.Sessions[0].ID, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Config.Handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	_, _, err = client.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "closed by the server: %v", err)
	require.Eventually(t, func() bool { return m.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var shutdowns atomic.Int32
	s := NewServer("", NewHandler(newResolver(t)),
		WithTimeouts(time.Second, time.Second),
		OnShutdown(func() { shutdowns.Add(1) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return s.Addr() == ln.Addr().String() }, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + HealthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, int32(1), shutdowns.Load())
}

func TestServer_RunListenError(t *testing.T) {
	s := NewServer("256.0.0.1:bad", http.NotFoundHandler())
	err := s.Run(context.Background())
	assert.Error(t, err)
}
