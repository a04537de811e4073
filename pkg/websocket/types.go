package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getmockd/mockcore/internal/matching"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/template"
)

// Defaults.
const (
	DefaultQueueSize      = 64
	DefaultMaxMessageSize = 64 * 1024
)

// MessageType selects how a Message value is encoded.
type MessageType string

const (
	// MessageText sends a string value verbatim (after templating).
	MessageText MessageType = "text"
	// MessageJSON templates the value's strings, then JSON-encodes it.
	MessageJSON MessageType = "json"
)

// Message is one outbound frame.
type Message struct {
	Type  MessageType   `json:"type,omitempty" yaml:"type,omitempty"`
	Value any           `json:"value" yaml:"value"`
	Delay mock.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

func (m Message) validate() error {
	switch m.Type {
	case "", MessageText, MessageJSON:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	return nil
}

// render expands templates against ctx and encodes the message. JSON values
// are templated leaf by leaf so substitutions are escaped.
func (m Message) render(ctx *template.Context) ([]byte, error) {
	typ := m.Type
	if typ == "" {
		typ = MessageText
		if _, isString := m.Value.(string); !isString {
			typ = MessageJSON
		}
	}
	if typ == MessageJSON {
		data, err := json.Marshal(template.RenderValue(m.Value, ctx))
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return data, nil
	}
	return []byte(template.Render(fmt.Sprint(m.Value), ctx)), nil
}

// MessageRule answers inbound messages that satisfy all its predicates.
type MessageRule struct {
	ID         string           `json:"id,omitempty" yaml:"id,omitempty"`
	Predicates []mock.Predicate `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	// Bind captures values from the matched message into session variables:
	// variable name → JSONPath.
	Bind     map[string]string `json:"bind,omitempty" yaml:"bind,omitempty"`
	Messages []Message         `json:"messages,omitempty" yaml:"messages,omitempty"`
	// Close ends the session after the messages are sent.
	Close bool `json:"close,omitempty" yaml:"close,omitempty"`
}

// Timer emits messages on an interval, optionally jittered.
type Timer struct {
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Interval mock.Duration `json:"interval" yaml:"interval"`
	// Jitter adds a uniform random [0, Jitter) to each interval.
	Jitter mock.Duration `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	// Broadcast timers run once per endpoint and reach every session.
	Broadcast bool      `json:"broadcast,omitempty" yaml:"broadcast,omitempty"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

// EndpointConfig declares one WebSocket endpoint.
type EndpointConfig struct {
	Path      string        `json:"path" yaml:"path"`
	OnConnect []Message     `json:"onConnect,omitempty" yaml:"onConnect,omitempty"`
	Rules     []MessageRule `json:"rules,omitempty" yaml:"rules,omitempty"`
	Timers    []Timer       `json:"timers,omitempty" yaml:"timers,omitempty"`

	QueueSize      int   `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`
	MaxMessageSize int64 `json:"maxMessageSize,omitempty" yaml:"maxMessageSize,omitempty"`
	// Subprotocols offered during the handshake.
	Subprotocols []string `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
}

// Config is the websocket section of the configuration document.
type Config struct {
	Endpoints []EndpointConfig `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// Validate checks every endpoint, including strict compilation of rules and
// bind paths.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Endpoints))
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if seen[ep.Path] {
			return fmt.Errorf("endpoints[%d]: duplicate path %q", i, ep.Path)
		}
		seen[ep.Path] = true
	}
	return nil
}

// Validate checks the endpoint declaration.
func (c *EndpointConfig) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	if c.QueueSize < 0 {
		return errors.New("queueSize must be >= 0")
	}
	for i, m := range c.OnConnect {
		if err := m.validate(); err != nil {
			return fmt.Errorf("onConnect[%d]: %w", i, err)
		}
	}
	for i, t := range c.Timers {
		if t.Interval <= 0 {
			return fmt.Errorf("timers[%d]: interval must be > 0", i)
		}
		if t.Jitter < 0 {
			return fmt.Errorf("timers[%d]: jitter must be >= 0", i)
		}
		for j, m := range t.Messages {
			if err := m.validate(); err != nil {
				return fmt.Errorf("timers[%d].messages[%d]: %w", i, j, err)
			}
		}
	}
	for i, r := range c.Rules {
		for j, m := range r.Messages {
			if err := m.validate(); err != nil {
				return fmt.Errorf("rules[%d].messages[%d]: %w", i, j, err)
			}
		}
		for name, path := range r.Bind {
			if _, err := matching.CompileJSONPath(path); err != nil {
				return fmt.Errorf("rules[%d].bind.%s: %w", i, name, err)
			}
		}
	}
	rules := c.matchRules()
	ids := make(map[string]int, len(rules))
	for i, r := range rules {
		if prev, dup := ids[r.ID]; dup {
			return fmt.Errorf("rules[%d]: duplicate id %q (also rules[%d])", i, r.ID, prev)
		}
		ids[r.ID] = i
	}
	if _, err := matching.CompileStrict(rules); err != nil {
		return err
	}
	return nil
}

// matchRules converts message rules to matcher rules. The response is a
// placeholder; replies come from the MessageRule itself.
func (c *EndpointConfig) matchRules() []mock.Rule {
	rules := make([]mock.Rule, len(c.Rules))
	for i, r := range c.Rules {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s#%d", c.Path, i)
		}
		rules[i] = mock.Rule{
			ID:         id,
			Route:      c.Path,
			Predicates: r.Predicates,
			Response:   &mock.RuleResponse{},
		}
	}
	return rules
}
