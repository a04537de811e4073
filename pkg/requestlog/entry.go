package requestlog

import (
	"time"

	"github.com/getmockd/mockcore/pkg/mock"
)

// MaxBodySize bounds the request and response bodies kept on an Entry.
const MaxBodySize = 10 << 10

// Entry captures one request/response exchange.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Protocol    mock.Protocol       `json:"protocol"`
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	QueryString string              `json:"queryString,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	RemoteAddr  string              `json:"remoteAddr,omitempty"`

	// Body is the request body, truncated to MaxBodySize.
	Body     string `json:"body,omitempty"`
	BodySize int    `json:"bodySize"`

	// Route is the key the request was resolved under.
	Route  string      `json:"route,omitempty"`
	Source mock.Source `json:"source,omitempty"`
	Status int         `json:"status"`

	// ResponseBody is truncated to MaxBodySize.
	ResponseBody string `json:"responseBody,omitempty"`

	DurationMs int `json:"durationMs"`

	// Error is the error code of a failed resolution.
	Error string `json:"error,omitempty"`
}

// Truncate returns b as a string of at most MaxBodySize bytes.
func Truncate(b []byte) string {
	if len(b) > MaxBodySize {
		return string(b[:MaxBodySize])
	}
	return string(b)
}

// Logger records entries.
type Logger interface {
	Log(entry *Entry)
}

// Store is request history that can be queried.
type Store interface {
	Logger

	// Get returns the entry with id, or nil.
	Get(id string) *Entry

	// List returns entries newest first, optionally filtered.
	List(filter *Filter) []*Entry

	Clear()
	Count() int
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Method string
	// Path is a path prefix, or a doublestar pattern when it contains glob
	// characters.
	Path   string
	Route  string
	Source mock.Source
	Status int

	HasError *bool

	Limit  int
	Offset int
}
