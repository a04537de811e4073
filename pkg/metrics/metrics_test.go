package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/resolver"
)

func TestEmit(t *testing.T) {
	m := New()

	m.Emit(resolver.Event{Type: resolver.EventResolved, Route: "users.get", Source: mock.SourceRule, Status: 200, Duration: 3 * time.Millisecond})
	m.Emit(resolver.Event{Type: resolver.EventResolved, Route: "users.get", Source: mock.SourceRule, Status: 200})
	m.Emit(resolver.Event{Type: resolver.EventResolved, Route: "users.get", Source: mock.SourceFixture, Status: 200})
	m.Emit(resolver.Event{Type: resolver.EventNoMatch, Route: "GET /nope"})
	m.Emit(resolver.Event{Type: resolver.EventUpstreamFailed, Route: "users.get"})
	m.Emit(resolver.Event{Type: resolver.EventFaultInjected, Fault: "flaky"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("users.get", "rule", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("users.get", "fixture", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("upstream_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faults.WithLabelValues("flaky")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestEmit_Sessions(t *testing.T) {
	m := New()
	for _, state := range []string{"active", "active", "closing", "closed"} {
		m.Emit(resolver.Event{Type: resolver.EventSessionTransition, Detail: state})
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("closed")))
}

func TestRouteCardinalityIsBounded(t *testing.T) {
	m := New(WithMaxRoutes(2))
	for _, route := range []string{"a", "b", "c", "d", "a"} {
		m.Emit(resolver.Event{Type: resolver.EventResolved, Route: route, Source: mock.SourceRule, Status: 200})
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("a", "rule", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues(OtherRoute, "rule", "200")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Emit(resolver.Event{Type: resolver.EventResolved, Route: "users.get", Source: mock.SourceSynth, Status: 200})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `mockcore_resolutions_total{route="users.get",source="synthesis",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestTeeWithMemorySink(t *testing.T) {
	m := New()
	mem := &resolver.MemorySink{}
	sink := resolver.TeeSink{mem, m}

	sink.Emit(resolver.Event{Type: resolver.EventFaultInjected, Fault: "timeout"})

	assert.Len(t, mem.Events(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faults.WithLabelValues("timeout")))
}
