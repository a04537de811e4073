// Package config loads, validates and applies the mockcore configuration
// document.
//
// A document is a single YAML or JSON file (detected by extension) that
// declares operations, rules, chaos profiles, fixture and proxy settings and
// WebSocket endpoints. Additional operations, rules and endpoints can be
// split into separate files pulled in through include globs:
//
//	include:
//	  - "rules/**/*.yaml"
//
// Environment variables of the form ${NAME} or ${NAME:-default} are expanded
// before parsing.
//
// Build turns a validated Document into a Runtime holding the resolver and
// its collaborators. Runtime.Apply swaps a newly loaded document into a
// running Runtime; a Watcher calls it whenever one of the files changes.
package config
