package mock

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Protocol identifies the adapter a Request came from.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
)

// Request is the protocol-neutral form of an inbound call.
type Request struct {
	Protocol Protocol
	Method   string
	Path     string
	Query    url.Values
	Header   http.Header
	Body     []byte

	// Identity is attached by an upstream authentication layer, if any.
	Identity string

	// PathParams is filled in by the resolver after a registry lookup.
	PathParams map[string]string
	// Route is the key the resolver resolved the request under.
	Route string

	Received time.Time

	parseOnce sync.Once
	parsed    any
	parsedOK  bool
}

// NewRequest builds a Request with empty (non-nil) query and header maps.
func NewRequest(method, path string) *Request {
	return &Request{
		Protocol: ProtocolHTTP,
		Method:   strings.ToUpper(method),
		Path:     path,
		Query:    url.Values{},
		Header:   http.Header{},
		Received: time.Now(),
	}
}

// JSON returns the body decoded as JSON. The second result is false when the
// body is empty or not valid JSON. The decode happens at most once.
func (r *Request) JSON() (any, bool) {
	r.parseOnce.Do(func() {
		if len(r.Body) == 0 {
			return
		}
		if err := json.Unmarshal(r.Body, &r.parsed); err == nil {
			r.parsedOK = true
		}
	})
	return r.parsed, r.parsedOK
}

// Clone returns a deep copy without the cached body decode.
func (r *Request) Clone() *Request {
	c := &Request{
		Protocol: r.Protocol,
		Method:   r.Method,
		Path:     r.Path,
		Query:    url.Values{},
		Header:   r.Header.Clone(),
		Identity: r.Identity,
		Route:    r.Route,
		Received: r.Received,
	}
	if c.Header == nil {
		c.Header = http.Header{}
	}
	for k, v := range r.Query {
		c.Query[k] = append([]string(nil), v...)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	if r.PathParams != nil {
		c.PathParams = make(map[string]string, len(r.PathParams))
		for k, v := range r.PathParams {
			c.PathParams[k] = v
		}
	}
	return c
}

// Source records which stage of the precedence chain produced a Response.
type Source string

const (
	SourceFixture  Source = "fixture"
	SourceCassette Source = "cassette"
	SourceRule     Source = "rule"
	SourceSynth    Source = "synthesis"
	SourceProxy    Source = "proxy"
	SourceFault    Source = "fault"
	SourceError    Source = "error"
)

// Response is the protocol-neutral result of resolving a Request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

// NewResponse returns a response with a non-nil header map.
func NewResponse(status int, body []byte) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: body}
}

// JSONResponse marshals v and sets the JSON content type.
func JSONResponse(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	resp := NewResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	c := &Response{Status: r.Status, Header: r.Header.Clone(), Source: r.Source}
	if c.Header == nil {
		c.Header = http.Header{}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return c
}
