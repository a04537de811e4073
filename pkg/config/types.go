package config

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/getmockd/mockcore/pkg/chaos"
	"github.com/getmockd/mockcore/pkg/fixture"
	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/proxy"
	"github.com/getmockd/mockcore/pkg/registry"
	"github.com/getmockd/mockcore/pkg/resolver"
	"github.com/getmockd/mockcore/pkg/validation"
	"github.com/getmockd/mockcore/pkg/websocket"
)

// Default server settings.
const (
	DefaultPort         = 4280
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Document is the root configuration document.
type Document struct {
	Server     ServerConfig         `json:"server" yaml:"server"`
	Logging    LoggingConfig        `json:"logging" yaml:"logging"`
	Operations []registry.Operation `json:"operations,omitempty" yaml:"operations,omitempty"`
	Rules      []mock.Rule          `json:"rules,omitempty" yaml:"rules,omitempty"`
	Include    []string             `json:"include,omitempty" yaml:"include,omitempty"`
	Chaos      chaos.Config         `json:"chaos" yaml:"chaos"`
	Fixtures   FixturesConfig       `json:"fixtures" yaml:"fixtures"`
	Proxy      proxy.Config         `json:"proxy" yaml:"proxy"`
	Validation validation.Config    `json:"validation" yaml:"validation"`
	WebSocket  websocket.Config     `json:"websocket" yaml:"websocket"`

	// Path is the file the document was loaded from.
	Path string `json:"-" yaml:"-"`
	// Files lists Path followed by every included file, in load order.
	Files []string `json:"-" yaml:"-"`
}

// Fragment is the content of an included file.
type Fragment struct {
	Operations []registry.Operation `json:"operations,omitempty" yaml:"operations,omitempty"`
	Rules      []mock.Rule          `json:"rules,omitempty" yaml:"rules,omitempty"`
	WebSocket  websocket.Config     `json:"websocket" yaml:"websocket"`
}

// ServerConfig configures the HTTP listener and resolver defaults.
type ServerConfig struct {
	Host         string        `json:"host,omitempty" yaml:"host,omitempty"`
	Port         int           `json:"port,omitempty" yaml:"port,omitempty"`
	ReadTimeout  mock.Duration `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	WriteTimeout mock.Duration `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`

	// NoMatchStatus is served when nothing resolves a request. Defaults to 404.
	NoMatchStatus int `json:"noMatchStatus,omitempty" yaml:"noMatchStatus,omitempty"`
	// UpstreamFaultStatus is served when an upstream is unreachable. Defaults to 502.
	UpstreamFaultStatus     int  `json:"upstreamFaultStatus,omitempty" yaml:"upstreamFaultStatus,omitempty"`
	PropagateUpstreamErrors bool `json:"propagateUpstreamErrors,omitempty" yaml:"propagateUpstreamErrors,omitempty"`

	// Seed seeds synthesis and fault sampling.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// MaxLogEntries bounds the request history. Zero uses
	// requestlog.DefaultMaxEntries; a negative value disables the history.
	MaxLogEntries int `json:"maxLogEntries,omitempty" yaml:"maxLogEntries,omitempty"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Timeouts returns the read and write timeouts with defaults applied.
func (s ServerConfig) Timeouts() (read, write time.Duration) {
	read, write = s.ReadTimeout.Duration(), s.WriteTimeout.Duration()
	if read == 0 {
		read = DefaultReadTimeout
	}
	if write == 0 {
		write = DefaultWriteTimeout
	}
	return read, write
}

// LoggingConfig is the logging section of the document.
type LoggingConfig struct {
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	AddSource bool   `json:"addSource,omitempty" yaml:"addSource,omitempty"`
}

// Logger builds the logger described by the section, writing to out.
func (l LoggingConfig) Logger(out io.Writer) *slog.Logger {
	return logging.New(logging.Config{
		Level:     logging.ParseLevel(l.Level),
		Format:    logging.ParseFormat(l.Format),
		Output:    out,
		AddSource: l.AddSource,
	})
}

// FixturesConfig is the fixtures section. Fixtures are disabled when Dir is
// empty.
type FixturesConfig struct {
	fixture.Config `json:",inline" yaml:",inline"`

	// Replay serves stored fixtures ahead of rules and synthesis.
	Replay bool `json:"replay,omitempty" yaml:"replay,omitempty"`
}

// Enabled reports whether a fixture directory is configured.
func (f *FixturesConfig) Enabled() bool {
	return f.Dir != ""
}

// ResolverOptions derives the resolver options from the document.
func (d *Document) ResolverOptions() resolver.Options {
	return resolver.Options{
		Replay:                  d.Fixtures.Replay && d.Fixtures.Enabled(),
		Offline:                 d.Proxy.Offline,
		NoMatchStatus:           d.Server.NoMatchStatus,
		UpstreamFaultStatus:     d.Server.UpstreamFaultStatus,
		PropagateUpstreamErrors: d.Server.PropagateUpstreamErrors,
		DefaultSeed:             d.Server.Seed,
	}
}

func (d *Document) merge(f *Fragment) {
	d.Operations = append(d.Operations, f.Operations...)
	d.Rules = append(d.Rules, f.Rules...)
	d.WebSocket.Endpoints = append(d.WebSocket.Endpoints, f.WebSocket.Endpoints...)
}
