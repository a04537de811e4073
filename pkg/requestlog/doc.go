// Package requestlog captures served requests and their outcomes for
// inspection and debugging.
//
// It is distinct from operational logging, which uses log/slog. Entries record
// what came in, which route and precedence stage answered it and what was
// sent back.
//
// # Usage
//
//	store := requestlog.NewMemory(1000)
//	store.Log(&requestlog.Entry{Method: "GET", Path: "/api/users", Status: 200})
//	recent := store.List(&requestlog.Filter{Path: "/api/**", Limit: 10})
//
// Memory is a bounded FIFO buffer that also implements Subscribe for
// streaming new entries as they arrive.
package requestlog
