package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockcore/pkg/fixture"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/registry"
	"github.com/getmockd/mockcore/pkg/resolver"
	"github.com/getmockd/mockcore/pkg/validation"
)

const baseYAML = `
server:
  port: 4281
  noMatchStatus: 418
  readTimeout: 5s
logging:
  level: debug
operations:
  - method: GET
    path: /users/{id}
    tags: [users]
    outputSchema:
      type: object
      properties:
        id: {type: integer}
rules:
  - route: "GET /users/{id}"
    predicates:
      - {kind: query, name: verbose, value: "1"}
    response:
      status: 200
      body: {id: 1, verbose: true}
include:
  - "rules/*.yaml"
websocket:
  endpoints:
    - path: /ws
      onConnect:
        - value: READY
`

const fragmentYAML = `
operations:
  - method: GET
    path: /health
rules:
  - route: "GET /health"
    response:
      body: ok
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mockcore.yaml")
	writeFile(t, path, baseYAML)
	writeFile(t, filepath.Join(dir, "rules", "health.yaml"), fragmentYAML)
	return path
}

func TestLoad_MergesIncludes(t *testing.T) {
	path := writeConfig(t)

	doc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4281, doc.Server.Port)
	assert.Equal(t, 5*time.Second, doc.Server.ReadTimeout.Duration())
	require.Len(t, doc.Operations, 2)
	assert.Equal(t, "/health", doc.Operations[1].Path)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, "ok", doc.Rules[1].Response.Body)
	require.Len(t, doc.WebSocket.Endpoints, 1)
	require.Len(t, doc.Files, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "rules", "health.yaml"), doc.Files[1])
	assert.NoError(t, doc.Validate())
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockcore.json")
	writeFile(t, path, `{"operations":[{"method":"GET","path":"/a"}],"validation":{"mode":"warn"}}`)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, doc.Operations, 1)
	assert.Equal(t, "warn", string(doc.Validation.Mode))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{name: "missing file", file: "nope.yaml", want: ErrFileNotFound},
		{name: "empty file", file: "empty.yaml", content: "  \n", want: ErrEmptyFile},
		{name: "bad yaml", file: "bad.yaml", content: "server: [\n", want: ErrInvalidYAML},
		{name: "unknown yaml key", file: "typo.yaml", content: "sever:\n  port: 1\n", want: ErrInvalidYAML},
		{name: "bad json", file: "bad.json", content: "{", want: ErrInvalidJSON},
		{name: "unknown json key", file: "typo.json", content: `{"rulez":[]}`, want: ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.content != "" {
				writeFile(t, path, tt.content)
			}
			_, err := Load(path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MOCKCORE_TEST_PORT", "8080")
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no variables", "hello world", "hello world"},
		{"simple variable", "port: ${MOCKCORE_TEST_PORT}", "port: 8080"},
		{"default ignored when set", "port: ${MOCKCORE_TEST_PORT:-3000}", "port: 8080"},
		{"default used when unset", "port: ${MOCKCORE_TEST_UNSET:-3000}", "port: 3000"},
		{"unset without default", "x${MOCKCORE_TEST_UNSET}y", "xy"},
		{"not a reference", "$HOME and {x}", "$HOME and {x}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnvVars(tt.input))
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	doc, err := Parse([]byte(`
server: {port: 70000}
logging: {format: xml}
operations:
  - {method: GET, path: users}
rules:
  - route: "GET /users"
    predicates: [{kind: jsonpath, path: "$[", value: 1}]
    response: {body: x}
  - route: nope
    response: {body: x}
chaos:
  bindings: [{route: "*", latency: glacial}]
fixtures: {replay: true}
validation: {mode: loud}
websocket:
  endpoints: [{path: ws}]
`), FormatYAML)
	require.NoError(t, err)

	err = doc.Validate()
	require.Error(t, err)
	assert.Equal(t, mock.KindConfigInvalid, mock.KindOf(err))

	var me *mock.Error
	require.ErrorAs(t, err, &me)
	joined := strings.Join(me.Details, "\n")
	for _, want := range []string{
		"server: port 70000",
		"logging: unknown format",
		"operations[0]",
		"rules: ",
		"chaos: ",
		"fixtures: replay requires dir",
		"validation: ",
		"websocket: endpoints[0]",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestValidate_RuleRoutes(t *testing.T) {
	doc := &Document{Operations: []registry.Operation{
		{ID: "getUser", Method: "GET", Path: "/users/{id}"},
		{Method: "DELETE", Path: "/users/{id}"},
	}}
	tests := []struct {
		route   string
		wantErr string
	}{
		{route: ""},
		{route: "*"},
		{route: "GET /anything"},
		{route: "getUser"},
		{route: "DELETE /users/{id}"},
		{route: "users.get", wantErr: "unknown route"},
		{route: "GET /users/{id}", wantErr: `served by operation "getUser"`},
		{route: "GET /users/7", wantErr: `served by operation "getUser"`},
		{route: "DELETE /users/7", wantErr: `served by operation "DELETE /users/{id}"`},
		{route: "GET /orders/{id}", wantErr: "path templates need a declared operation"},
		{route: "get /anything", wantErr: "upper case"},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			doc.Rules = []mock.Rule{{Route: tt.route, Response: &mock.RuleResponse{Body: "x"}}}
			err := doc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, mock.ErrConfigInvalid)
			var me *mock.Error
			require.ErrorAs(t, err, &me)
			require.Len(t, me.Details, 1)
			assert.Contains(t, me.Details[0], tt.wantErr)
		})
	}
}

// get resolves a GET for path; query holds key/value pairs.
func get(t *testing.T, rt *Runtime, path string, query ...string) *mock.Response {
	t.Helper()
	req := mock.NewRequest("GET", path)
	for i := 0; i+1 < len(query); i += 2 {
		req.Query.Set(query[i], query[i+1])
	}
	resp, err := rt.Resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestBuild(t *testing.T) {
	doc, err := Load(writeConfig(t))
	require.NoError(t, err)
	events := &resolver.MemorySink{}

	rt, err := Build(doc, Overrides{}, events, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	assert.Nil(t, rt.Fixtures)
	assert.NotNil(t, rt.Requests)
	assert.Equal(t, 418, rt.Resolver.Options().NoMatchStatus)
	assert.Equal(t, []string{"/ws"}, rt.WebSocket.Paths())

	resp := get(t, rt, "/users/7", "verbose", "1")
	assert.JSONEq(t, `{"id":1,"verbose":true}`, string(resp.Body))
	assert.Equal(t, mock.SourceRule, resp.Source)

	resp = get(t, rt, "/users/7")
	assert.Equal(t, mock.SourceSynth, resp.Source)

	assert.Equal(t, "ok", string(get(t, rt, "/health").Body))
	assert.NotEmpty(t, events.Of(resolver.EventResolved))
}

func TestBuild_RequestLogDisabled(t *testing.T) {
	doc, err := Parse([]byte("server: {maxLogEntries: -1}\n"), FormatYAML)
	require.NoError(t, err)
	rt, err := Build(doc, Overrides{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	assert.Nil(t, rt.Requests)
}

func TestBuild_Overrides(t *testing.T) {
	doc := &Document{Fixtures: FixturesConfig{Config: fixture.Config{Dir: t.TempDir()}}}
	rt, err := Build(doc, Overrides{Offline: true, Replay: true, RecordAll: true}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	require.NotNil(t, rt.Fixtures)
	opts := rt.Resolver.Options()
	assert.True(t, opts.Offline)
	assert.True(t, opts.Replay)
	assert.True(t, rt.Gateway.Offline())
}

func TestBuild_Invalid(t *testing.T) {
	doc := &Document{Validation: validation.Config{Mode: "loud"}}
	_, err := Build(doc, Overrides{}, nil, nil)
	assert.ErrorIs(t, err, mock.ErrConfigInvalid)
}

func TestRuntime_Apply(t *testing.T) {
	path := writeConfig(t)
	doc, err := Load(path)
	require.NoError(t, err)
	rt, err := Build(doc, Overrides{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	snapshot := rt.Registry.Load()

	writeFile(t, filepath.Join(filepath.Dir(path), "rules", "health.yaml"),
		strings.Replace(fragmentYAML, "body: ok", "body: fine", 1))
	require.NoError(t, rt.Reload(path))
	assert.Equal(t, "fine", string(get(t, rt, "/health").Body))
	assert.NotSame(t, snapshot, rt.Registry.Load())
	_, _, ok := snapshot.Lookup("GET", "/health")
	assert.True(t, ok, "held snapshot must stay usable")

	// a broken document keeps the previous configuration
	writeFile(t, path, baseYAML+"\nvalidation: {mode: loud}\n")
	err = rt.Reload(path)
	assert.ErrorIs(t, err, mock.ErrConfigInvalid)
	assert.Equal(t, "fine", string(get(t, rt, "/health").Body))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t)
	doc, err := Load(path)
	require.NoError(t, err)
	rt, err := Build(doc, Overrides{}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	w, err := NewWatcher(rt, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	reloaded := make(chan error, 4)
	w.OnReload(func(_ *Document, err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher time to register its directories
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.dirs) == 2
	}, time.Second, 5*time.Millisecond)

	writeFile(t, filepath.Join(filepath.Dir(path), "rules", "health.yaml"),
		strings.Replace(fragmentYAML, "body: ok", "body: changed", 1))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after change")
	}
	assert.Equal(t, "changed", string(get(t, rt, "/health").Body))
}

func TestServerConfig(t *testing.T) {
	var s ServerConfig
	assert.Equal(t, ":4280", s.Addr())
	read, write := s.Timeouts()
	assert.Equal(t, DefaultReadTimeout, read)
	assert.Equal(t, DefaultWriteTimeout, write)

	s = ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("MOCKCORE_PORT", "4299")

	doc, err := Load(filepath.Join("..", "..", "examples", "with-config-file", "mockcore.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4299, doc.Server.Port)
	assert.Len(t, doc.Files, 2)
	assert.Len(t, doc.Operations, 4)
	assert.NoError(t, doc.Validate())
}
