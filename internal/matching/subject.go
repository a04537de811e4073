package matching

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/getmockd/mockcore/pkg/mock"
)

// subject is what predicates are evaluated against: either an HTTP-like
// request or a WebSocket message with session variables.
type subject struct {
	message bool
	method  string
	path    string
	query   url.Values
	header  http.Header
	params  map[string]string
	raw     []byte
	vars    map[string]string

	req      *mock.Request
	decoded  bool
	data     any
	dataOK   bool
	envCache map[string]any
}

func requestSubject(req *mock.Request) *subject {
	return &subject{
		method: req.Method,
		path:   req.Path,
		query:  req.Query,
		header: req.Header,
		params: req.PathParams,
		raw:    req.Body,
		req:    req,
	}
}

func messageSubject(body []byte, vars map[string]string) *subject {
	return &subject{message: true, raw: body, vars: vars}
}

func (s *subject) json() (any, bool) {
	if s.req != nil {
		return s.req.JSON()
	}
	if !s.decoded {
		s.decoded = true
		if len(s.raw) > 0 && json.Unmarshal(s.raw, &s.data) == nil {
			s.dataOK = true
		}
	}
	return s.data, s.dataOK
}

func (s *subject) env() map[string]any {
	if s.envCache != nil {
		return s.envCache
	}
	body, _ := s.json()
	s.envCache = map[string]any{
		"method":  s.method,
		"path":    s.path,
		"raw":     string(s.raw),
		"body":    body,
		"query":   flatten(s.query),
		"headers": flatten(s.header),
		"params":  orEmpty(s.params),
		"vars":    orEmpty(s.vars),
	}
	return s.envCache
}

func flatten[M ~map[string][]string](m M) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
