package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Operation is one declared API surface point.
type Operation struct {
	// ID is the route identifier. Defaults to "METHOD /path/template".
	ID      string   `json:"id,omitempty" yaml:"id,omitempty"`
	Method  string   `json:"method" yaml:"method"`
	Path    string   `json:"path" yaml:"path"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Summary string   `json:"summary,omitempty" yaml:"summary,omitempty"`

	InputSchema  map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`

	// Status is the status code of synthesized responses. Defaults to 200.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Examples, when present, are served ahead of generated values.
	Examples []any `json:"examples,omitempty" yaml:"examples,omitempty"`

	// Seed fixes synthesis output for this operation.
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// RouteID returns the identifier fixtures, rules and profiles are keyed by.
func (o *Operation) RouteID() string {
	if o.ID != "" {
		return o.ID
	}
	return strings.ToUpper(o.Method) + " " + o.Path
}

// HasTag reports whether the operation carries tag.
func (o *Operation) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks method, path and template syntax.
func (o *Operation) Validate() error {
	if o.Method == "" {
		return errors.New("method is required")
	}
	if !strings.HasPrefix(o.Path, "/") {
		return fmt.Errorf("path %q must start with /", o.Path)
	}
	if _, err := parseTemplate(o.Path); err != nil {
		return err
	}
	if o.Status != 0 && (o.Status < 100 || o.Status > 599) {
		return fmt.Errorf("status %d out of range", o.Status)
	}
	return nil
}
