// Package registry holds the immutable table of declared operations and
// resolves concrete request paths against their templates.
//
// A *Registry is never modified after Load returns. Reloading builds a fresh
// table and publishes it through a Holder with a single atomic pointer swap,
// so a lookup that started against the old table finishes against it.
package registry
