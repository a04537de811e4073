// Package engine is the HTTP adapter in front of the resolver.
//
// Handler turns each inbound request into a mock.Request, resolves it and
// writes the result. WebSocket upgrades are handed to the session manager.
// Server runs a Handler on a listener until its context is cancelled.
//
// Reserved paths under /__mockcore/ serve health, statistics, Prometheus
// metrics, the request history and the WebSocket session list, and never
// reach the resolver.
package engine
