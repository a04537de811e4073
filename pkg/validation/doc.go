// Package validation checks request and response bodies against the JSON
// Schemas declared on an operation.
//
// Schemas are compiled once per distinct content (keyed by an xxhash of their
// canonical JSON) using Draft 2020-12, so registry reloads that keep a schema
// unchanged reuse the compiled form.
package validation
