package mock

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// PredicateKind tags the variant held by a Predicate.
type PredicateKind string

const (
	// PredicateMethod: Value is the HTTP method.
	PredicateMethod PredicateKind = "method"
	// PredicateHeader: Name is the header; Value tests equality, otherwise presence.
	PredicateHeader PredicateKind = "header"
	// PredicateQuery: Name is the query parameter; Value tests equality, otherwise presence.
	PredicateQuery PredicateKind = "query"
	// PredicateBody: Value is compared with the whole raw body.
	PredicateBody PredicateKind = "body"
	// PredicateJSONPath: Path is evaluated against the JSON body.
	PredicateJSONPath PredicateKind = "jsonpath"
	// PredicateVar: Name is a session variable (WebSocket only).
	PredicateVar PredicateKind = "var"
	// PredicateExpr: Expression is a boolean expr-lang expression.
	PredicateExpr PredicateKind = "expr"
)

// Predicate is one condition of a Rule. Exactly the fields relevant to Kind
// are read; the rest are ignored.
type Predicate struct {
	Kind       PredicateKind `json:"kind" yaml:"kind"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Path       string        `json:"path,omitempty" yaml:"path,omitempty"`
	Value      any           `json:"value,omitempty" yaml:"value,omitempty"`
	Exists     *bool         `json:"exists,omitempty" yaml:"exists,omitempty"`
	Expression string        `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Validate checks the fields required by the predicate's kind. It does not
// compile JSONPath or expr expressions.
func (p Predicate) Validate() error {
	switch p.Kind {
	case PredicateMethod:
		if s, ok := p.Value.(string); !ok || s == "" {
			return errors.New("method predicate requires a string value")
		}
	case PredicateHeader, PredicateQuery, PredicateVar:
		if p.Name == "" {
			return fmt.Errorf("%s predicate requires a name", p.Kind)
		}
	case PredicateBody:
		if p.Value == nil {
			return errors.New("body predicate requires a value")
		}
	case PredicateJSONPath:
		if p.Path == "" {
			return errors.New("jsonpath predicate requires a path")
		}
	case PredicateExpr:
		if strings.TrimSpace(p.Expression) == "" {
			return errors.New("expr predicate requires an expression")
		}
	case "":
		return errors.New("predicate kind is required")
	default:
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
	return nil
}

// Rule pairs a predicate set with a response.
type Rule struct {
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Route is the operation id the rule applies to. Empty or "*" applies to
	// every request.
	Route string `json:"route,omitempty" yaml:"route,omitempty"`

	// Method restricts the rule to one method. Empty matches any method.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	Predicates []Predicate   `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	Response   *RuleResponse `json:"response" yaml:"response"`
}

// IsCatchAll reports whether the rule has no predicates besides its method.
func (r *Rule) IsCatchAll() bool {
	for _, p := range r.Predicates {
		if p.Kind != PredicateMethod {
			return false
		}
	}
	return true
}

// Validate checks the rule's predicates and response.
func (r *Rule) Validate() error {
	for i, p := range r.Predicates {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("predicates[%d]: %w", i, err)
		}
	}
	if r.Response == nil {
		return errors.New("response is required")
	}
	return r.Response.Validate()
}

// RuleResponse is the literal or synthesized response of a Rule.
type RuleResponse struct {
	Status  int               `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is written verbatim when it is a string and JSON-encoded otherwise.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`

	// Template renders {{ }} expressions in Body against the request. In a
	// structured body only string values are rendered.
	Template bool `json:"template,omitempty" yaml:"template,omitempty"`

	// Synthesize, when set, is a schema handed to the synthesizer instead of
	// using Body.
	Synthesize map[string]any `json:"synthesize,omitempty" yaml:"synthesize,omitempty"`
	Seed       *int64         `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Validate checks the status code range.
func (r *RuleResponse) Validate() error {
	if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
		return fmt.Errorf("response status %d out of range", r.Status)
	}
	return nil
}

// StatusCode returns Status, defaulting to 200.
func (r *RuleResponse) StatusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// BodyBytes returns the literal body and whether it was JSON-encoded.
func (r *RuleResponse) BodyBytes() ([]byte, bool, error) {
	switch b := r.Body.(type) {
	case nil:
		return nil, false, nil
	case string:
		return []byte(b), false, nil
	case []byte:
		return b, false, nil
	default:
		data, err := json.Marshal(normalizeYAML(b))
		if err != nil {
			return nil, false, fmt.Errorf("encode response body: %w", err)
		}
		return data, true, nil
	}
}

// normalizeYAML converts map[any]any values, which encoding/json rejects,
// into map[string]any. The input is not modified.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeYAML(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalizeYAML(val)
		}
		return s
	default:
		return v
	}
}
