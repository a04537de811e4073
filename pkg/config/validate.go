package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/registry"
	"github.com/getmockd/mockcore/pkg/validation"
)

// Validate checks the whole document and reports every problem found as a
// single ConfigInvalid error whose Details list one entry per problem.
func (d *Document) Validate() error {
	var details []string
	add := func(section string, err error) {
		if err == nil {
			return
		}
		prefix := ""
		if section != "" {
			prefix = section + ": "
		}
		var me *mock.Error
		if errors.As(err, &me) && len(me.Details) > 0 {
			for _, detail := range me.Details {
				details = append(details, prefix+detail)
			}
			return
		}
		details = append(details, prefix+err.Error())
	}

	add("server", d.Server.validate())
	add("logging", d.Logging.validate())

	reg, err := registry.Load(d.Operations)
	add("", err)
	add("", validation.CheckSchemas(d.Operations))

	add("rules", matching.ValidateRules(d.Rules))
	if reg != nil {
		for i := range d.Rules {
			if err := checkRoute(reg, d.Rules[i].Route); err != nil {
				details = append(details, fmt.Sprintf("rules[%d]: %v", i, err))
			}
		}
	}

	add("chaos", d.Chaos.Validate())
	if d.Fixtures.Enabled() {
		add("fixtures", d.Fixtures.Config.Validate())
	} else if d.Fixtures.Replay {
		details = append(details, "fixtures: replay requires dir")
	}
	add("proxy", d.Proxy.Validate())
	add("validation", d.Validation.Validate())
	add("websocket", d.WebSocket.Validate())

	if len(details) == 0 {
		return nil
	}
	e := mock.NewError(mock.KindConfigInvalid, "config.validate",
		fmt.Sprintf("%d problem(s) in configuration", len(details)))
	e.Details = details
	return e
}

// checkRoute accepts the global route, declared operation ids and
// "METHOD /path" keys for undeclared routes. A "METHOD /path" key that a
// declared operation serves is rejected: requests for it are keyed by the
// operation's id, so the rule could never match.
func checkRoute(reg *registry.Registry, route string) error {
	if route == "" || route == matching.GlobalRoute {
		return nil
	}
	if _, ok := reg.Operation(route); ok {
		return nil
	}
	method, path, ok := strings.Cut(route, " ")
	if !ok || method == "" || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("unknown route %q", route)
	}
	if method != strings.ToUpper(method) {
		return fmt.Errorf("route %q: method must be upper case", route)
	}
	if op, _, found := reg.Lookup(method, path); found {
		return fmt.Errorf("route %q is served by operation %q; use that id", route, op.RouteID())
	}
	if strings.ContainsAny(path, "{}") {
		return fmt.Errorf("route %q: path templates need a declared operation", route)
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	for name, status := range map[string]int{
		"noMatchStatus":       s.NoMatchStatus,
		"upstreamFaultStatus": s.UpstreamFaultStatus,
	} {
		if status != 0 && (status < 100 || status > 599) {
			return fmt.Errorf("%s %d is not a valid HTTP status", name, status)
		}
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch logging.Format(strings.ToLower(l.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}
