// Package proxy forwards unresolved requests to real upstreams and, in record
// mode, persists what they answer so the same request replays next time.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
)

const (
	// DefaultMaxBodySize caps the upstream response body (10MB).
	DefaultMaxBodySize = 10 * 1024 * 1024
	// DefaultTimeout bounds a forward when the upstream sets none.
	DefaultTimeout = 30 * time.Second
)

// DefaultAllowHeaders are forwarded when an upstream lists none.
var DefaultAllowHeaders = []string{"Accept", "Content-Type"}

// Mode represents the gateway operating mode for one upstream.
type Mode string

const (
	// ModePassthrough forwards without storing.
	ModePassthrough Mode = "passthrough"
	// ModeRecord forwards and stores the exchange as a fixture.
	ModeRecord Mode = "record"
)

// Upstream is one real backend and the requests bound to it.
type Upstream struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	URL  string `json:"url" yaml:"url"`

	// Routes binds explicit route ids. These win over PathPrefixes.
	Routes []string `json:"routes,omitempty" yaml:"routes,omitempty"`
	// PathPrefixes binds by path: a plain prefix matches on segment
	// boundaries; a pattern with glob syntax ("/v1/**") uses doublestar.
	PathPrefixes []string `json:"pathPrefixes,omitempty" yaml:"pathPrefixes,omitempty"`

	AllowHeaders  []string          `json:"allowHeaders,omitempty" yaml:"allowHeaders,omitempty"`
	InjectHeaders map[string]string `json:"injectHeaders,omitempty" yaml:"injectHeaders,omitempty"`
	Timeout       mock.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// ExcludePaths are never recorded, even in record mode.
	ExcludePaths []string `json:"excludePaths,omitempty" yaml:"excludePaths,omitempty"`

	base *url.URL
}

// Validate checks the URL, mode and patterns.
func (u *Upstream) Validate() error {
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", u.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", u.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q has no host", u.URL)
	}
	switch u.Mode {
	case "", ModePassthrough, ModeRecord:
	default:
		return fmt.Errorf("unknown mode %q", u.Mode)
	}
	if u.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", u.Timeout)
	}
	if len(u.Routes) == 0 && len(u.PathPrefixes) == 0 {
		return errors.New("at least one of routes or pathPrefixes is required")
	}
	for _, p := range append(append([]string(nil), u.PathPrefixes...), u.ExcludePaths...) {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("path pattern %q must start with /", p)
		}
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid path pattern %q", p)
		}
	}
	return nil
}

func (u *Upstream) label() string {
	if u.Name != "" {
		return u.Name
	}
	return u.URL
}

func (u *Upstream) timeout() time.Duration {
	if u.Timeout > 0 {
		return u.Timeout.Duration()
	}
	return DefaultTimeout
}

func (u *Upstream) allowHeaders() []string {
	if len(u.AllowHeaders) > 0 {
		return u.AllowHeaders
	}
	return DefaultAllowHeaders
}

// Config is the proxy section of the configuration document.
type Config struct {
	// Offline disables forwarding entirely.
	Offline   bool       `json:"offline,omitempty" yaml:"offline,omitempty"`
	Upstreams []Upstream `json:"upstreams,omitempty" yaml:"upstreams,omitempty"`
}

// Validate checks every upstream.
func (c *Config) Validate() error {
	for i := range c.Upstreams {
		if err := c.Upstreams[i].Validate(); err != nil {
			return fmt.Errorf("upstreams[%d]: %w", i, err)
		}
	}
	return nil
}

// Recorder persists forwarded exchanges. *fixture.Store satisfies it.
type Recorder interface {
	Fingerprint(req *mock.Request) string
	Put(route, fp string, req *mock.Request, resp *mock.Response) error
}

// Gateway forwards requests to configured upstreams.
type Gateway struct {
	upstreams []*Upstream
	byRoute   map[string]*Upstream
	offline   bool
	client    *http.Client
	recorder  Recorder
	log       *slog.Logger

	recordAll atomic.Bool
}

// New validates cfg and builds a Gateway. recorder may be nil, in which case
// record mode forwards without storing.
func New(cfg Config, recorder Recorder, log *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, mock.Wrap(mock.KindConfigInvalid, "proxy", err)
	}
	g := &Gateway{
		byRoute:  make(map[string]*Upstream),
		offline:  cfg.Offline,
		recorder: recorder,
		log:      logging.Component(log, "proxy"),
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			// upstream redirects are part of the recorded answer
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for i := range cfg.Upstreams {
		up := cfg.Upstreams[i]
		up.base, _ = url.Parse(up.URL)
		g.upstreams = append(g.upstreams, &up)
		for _, route := range up.Routes {
			if _, dup := g.byRoute[route]; !dup {
				g.byRoute[route] = &up
			}
		}
	}
	return g, nil
}

// SetClient replaces the HTTP client used for forwarding.
func (g *Gateway) SetClient(c *http.Client) {
	g.client = c
}

// SetRecordAll forces record mode on every upstream (the record entry point).
func (g *Gateway) SetRecordAll(on bool) {
	g.recordAll.Store(on)
}

// Offline reports whether forwarding is disabled.
func (g *Gateway) Offline() bool {
	return g == nil || g.offline
}

// Bind returns the upstream for a request, or nil. An explicit route binding
// wins; otherwise the longest matching path prefix wins.
func (g *Gateway) Bind(route, path string) *Upstream {
	if g == nil || g.offline {
		return nil
	}
	if up, ok := g.byRoute[route]; ok {
		return up
	}
	var (
		best    *Upstream
		bestLen = -1
	)
	for _, up := range g.upstreams {
		for _, prefix := range up.PathPrefixes {
			if n, ok := matchPrefix(prefix, path); ok && n > bestLen {
				best, bestLen = up, n
			}
		}
	}
	return best
}

// matchPrefix reports whether path falls under pattern and how specific the
// pattern is (its length up to the first glob character).
func matchPrefix(pattern, path string) (int, bool) {
	if i := strings.IndexAny(pattern, "*?[{"); i >= 0 {
		ok, _ := doublestar.Match(pattern, path)
		return i, ok
	}
	prefix := strings.TrimSuffix(pattern, "/")
	if prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/") {
		return len(prefix), true
	}
	return 0, false
}

func (g *Gateway) shouldRecord(up *Upstream, path string) bool {
	if g.recorder == nil {
		return false
	}
	if up.Mode != ModeRecord && !g.recordAll.Load() {
		return false
	}
	for _, pattern := range up.ExcludePaths {
		if _, ok := matchPrefix(pattern, path); ok {
			return false
		}
	}
	return true
}
