package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getmockd/mockcore/pkg/resolver"
)

const namespace = "mockcore"

// DefaultMaxRoutes bounds the distinct route label values. Further routes
// are counted under OtherRoute.
const DefaultMaxRoutes = 500

// OtherRoute is the route label used once DefaultMaxRoutes is reached.
const OtherRoute = "other"

// Metrics is a resolver.EventSink backed by a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	resolutions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	failures    *prometheus.CounterVec
	faults      *prometheus.CounterVec
	sessions    prometheus.Gauge
	transitions *prometheus.CounterVec

	maxRoutes int
	mu        sync.Mutex
	routes    map[string]struct{}
}

// Option configures Metrics.
type Option func(*Metrics)

// WithMaxRoutes overrides DefaultMaxRoutes.
func WithMaxRoutes(n int) Option {
	return func(m *Metrics) { m.maxRoutes = n }
}

// New creates Metrics on a fresh registry.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		maxRoutes: DefaultMaxRoutes,
		routes:    make(map[string]struct{}),

		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved requests by route, source and status.",
		}, []string{"route", "source", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Time spent resolving a request, including injected latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed resolution stages by event type.",
		}, []string{"type"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_injected_total",
			Help:      "Injected faults by profile.",
		}, []string{"fault"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions",
			Help:      "Currently active WebSocket sessions.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "transitions_total",
			Help:      "WebSocket session state changes by target state.",
		}, []string{"state"}),
	}
	for _, o := range opts {
		o(m)
	}
	m.registry.MustRegister(
		m.resolutions,
		m.duration,
		m.failures,
		m.faults,
		m.sessions,
		m.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Emit records e.
func (m *Metrics) Emit(e resolver.Event) {
	switch e.Type {
	case resolver.EventResolved:
		m.resolutions.WithLabelValues(m.route(e.Route), string(e.Source), strconv.Itoa(e.Status)).Inc()
		m.duration.WithLabelValues(string(e.Source)).Observe(e.Duration.Seconds())
	case resolver.EventFaultInjected:
		m.faults.WithLabelValues(e.Fault).Inc()
	case resolver.EventSessionTransition:
		m.transitions.WithLabelValues(e.Detail).Inc()
		switch e.Detail {
		case "active":
			m.sessions.Inc()
		case "closing":
			m.sessions.Dec()
		}
	case resolver.EventNoMatch, resolver.EventUpstreamFailed, resolver.EventValidationFailed,
		resolver.EventTransformFailed, resolver.EventSynthesisFailed, resolver.EventSessionViolation:
		m.failures.WithLabelValues(string(e.Type)).Inc()
	}
}

func (m *Metrics) route(route string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[route]; ok {
		return route
	}
	if len(m.routes) >= m.maxRoutes {
		return OtherRoute
	}
	m.routes[route] = struct{}{}
	return route
}
