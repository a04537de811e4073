// Package metrics exposes resolver and session events as Prometheus metrics.
//
// A Metrics value is a resolver.EventSink: tee it with the log sink and every
// resolution, failure, injected fault and session transition is counted.
//
// # Metrics
//
//   - mockcore_resolutions_total: resolved requests (labels: route, source, status)
//   - mockcore_resolution_duration_seconds: time spent resolving (labels: source)
//   - mockcore_failures_total: resolutions that failed (labels: type)
//   - mockcore_faults_injected_total: injected faults (labels: fault)
//   - mockcore_websocket_sessions: currently active WebSocket sessions
//   - mockcore_websocket_transitions_total: session state changes (labels: state)
//
// Go runtime and process collectors are registered alongside.
//
// # Usage
//
//	m := metrics.New()
//	sink := resolver.TeeSink{resolver.NewLogSink(log), m}
//	http.Handle("/metrics", m.Handler())
package metrics
