// Package websocket runs scripted WebSocket sessions.
//
// Each connection is a Session: a small state machine
// (Connecting → Active → Closing → Closed) whose state is owned by a single
// goroutine. Everything that can happen to a session, an inbound frame, a
// timer tick, a broadcast from another goroutine, arrives as an event on the
// session's own queue, so no session state is ever touched concurrently.
//
// Entering Active sends the endpoint's on-connect messages and starts the
// per-connection timers. Inbound messages are matched against the endpoint's
// message rules with the same predicate engine HTTP rules use (only body,
// jsonpath, var and expr predicates can hold for a message). A matching rule
// may bind session variables from the message and emits templated replies.
// Broadcast timers run once per endpoint in a Hub and publish into every
// registered session's queue.
//
// The Handler adapts github.com/coder/websocket connections to sessions.
package websocket
