// Package mock defines the protocol-neutral Request/Response pair that every
// mockcore component speaks, the declarative Rule and Predicate types, and the
// error taxonomy surfaced by the resolution pipeline.
//
// Protocol adapters translate wire traffic into a *Request before the core
// sees it and write the resulting *Response back out. Nothing in this package
// performs I/O.
package mock
