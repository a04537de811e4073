// Package synth generates deterministic sample bodies from JSON Schemas.
//
// The same (schema, seed) pair always yields byte-identical output: property
// names are walked in sorted order and every random choice, including UUIDs
// and timestamps, is drawn from one seeded generator. Declared examples take
// precedence over generated values.
package synth
