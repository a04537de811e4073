package chaos

import (
	"errors"
	"fmt"
	"math"

	"github.com/getmockd/mockcore/pkg/mock"
)

// Distribution selects how a LatencyProfile samples delays.
type Distribution string

const (
	DistributionFixed   Distribution = "fixed"
	DistributionUniform Distribution = "uniform"
	DistributionNormal  Distribution = "normal"
)

// LatencyProfile is a named delay distribution.
type LatencyProfile struct {
	Name         string       `json:"name" yaml:"name"`
	Distribution Distribution `json:"distribution" yaml:"distribution"`

	// Fixed is used by the fixed distribution.
	Fixed mock.Duration `json:"fixed,omitempty" yaml:"fixed,omitempty"`

	// Min and Max bound the uniform distribution.
	Min mock.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max mock.Duration `json:"max,omitempty" yaml:"max,omitempty"`

	// Mean, StdDev and Clamp parameterise the normal distribution. Samples
	// are bounded to [2*Mean-Clamp, Clamp] (and never below zero).
	Mean   mock.Duration `json:"mean,omitempty" yaml:"mean,omitempty"`
	StdDev mock.Duration `json:"stddev,omitempty" yaml:"stddev,omitempty"`
	Clamp  mock.Duration `json:"clamp,omitempty" yaml:"clamp,omitempty"`
}

// Validate checks the distribution parameters.
func (p *LatencyProfile) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	switch p.Distribution {
	case DistributionFixed:
		if p.Fixed < 0 {
			return fmt.Errorf("fixed must be >= 0, got %v", p.Fixed)
		}
	case DistributionUniform:
		if p.Min < 0 {
			return fmt.Errorf("min must be >= 0, got %v", p.Min)
		}
		if p.Max < p.Min {
			return fmt.Errorf("max (%v) must be >= min (%v)", p.Max, p.Min)
		}
	case DistributionNormal:
		if p.Mean < 0 {
			return fmt.Errorf("mean must be >= 0, got %v", p.Mean)
		}
		if p.StdDev < 0 {
			return fmt.Errorf("stddev must be >= 0, got %v", p.StdDev)
		}
		if p.Clamp < p.Mean {
			return fmt.Errorf("clamp (%v) must be >= mean (%v)", p.Clamp, p.Mean)
		}
	case "":
		return errors.New("distribution is required")
	default:
		return fmt.Errorf("unknown distribution %q", p.Distribution)
	}
	return nil
}

// FaultProfile replaces a response with a failure at the given probability.
type FaultProfile struct {
	Name        string            `json:"name" yaml:"name"`
	Probability float64           `json:"probability" yaml:"probability"`
	Status      int               `json:"status,omitempty" yaml:"status,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Validate checks probability and status.
func (p *FaultProfile) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if err := validateProbability(p.Probability, "probability"); err != nil {
		return err
	}
	if p.Status != 0 && (p.Status < 100 || p.Status > 599) {
		return fmt.Errorf("status %d out of range", p.Status)
	}
	return nil
}

func validateProbability(value float64, fieldName string) error {
	if math.IsNaN(value) || value < 0.0 || value > 1.0 {
		return fmt.Errorf("%s must be between 0.0 and 1.0, got %v", fieldName, value)
	}
	return nil
}

// ProfileRef names the latency and/or fault profile to apply.
type ProfileRef struct {
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
	Fault   string `json:"fault,omitempty" yaml:"fault,omitempty"`
}

// Binding attaches profiles to a route or to a tag.
type Binding struct {
	Route      string `json:"route,omitempty" yaml:"route,omitempty"`
	Tag        string `json:"tag,omitempty" yaml:"tag,omitempty"`
	ProfileRef `json:",inline" yaml:",inline"`
}

// Config is the chaos section of the configuration document.
type Config struct {
	Latency  []LatencyProfile `json:"latency,omitempty" yaml:"latency,omitempty"`
	Faults   []FaultProfile   `json:"faults,omitempty" yaml:"faults,omitempty"`
	Bindings []Binding        `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Default  ProfileRef       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Validate checks every profile and that bindings reference known profiles.
// Built-in profile names may be referenced without being declared.
func (c *Config) Validate() error {
	latency, faults, err := c.profiles()
	if err != nil {
		return err
	}
	check := func(ref ProfileRef) error {
		if ref.Latency != "" {
			if _, ok := latency[ref.Latency]; !ok {
				return fmt.Errorf("unknown latency profile %q", ref.Latency)
			}
		}
		if ref.Fault != "" {
			if _, ok := faults[ref.Fault]; !ok {
				return fmt.Errorf("unknown fault profile %q", ref.Fault)
			}
		}
		return nil
	}
	for i, b := range c.Bindings {
		if (b.Route == "") == (b.Tag == "") {
			return fmt.Errorf("bindings[%d]: exactly one of route or tag is required", i)
		}
		if b.Latency == "" && b.Fault == "" {
			return fmt.Errorf("bindings[%d]: no profile referenced", i)
		}
		if err := check(b.ProfileRef); err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
	}
	if err := check(c.Default); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	return nil
}

// profiles validates and indexes declared profiles over the built-ins.
func (c *Config) profiles() (map[string]*LatencyProfile, map[string]*FaultProfile, error) {
	latency := builtinLatency()
	faults := builtinFaults()
	declared := make(map[string]bool)
	for i := range c.Latency {
		p := c.Latency[i]
		if err := p.Validate(); err != nil {
			return nil, nil, fmt.Errorf("latency[%d]: %w", i, err)
		}
		if declared["latency/"+p.Name] {
			return nil, nil, fmt.Errorf("latency[%d]: duplicate profile %q", i, p.Name)
		}
		declared["latency/"+p.Name] = true
		latency[p.Name] = &p
	}
	for i := range c.Faults {
		p := c.Faults[i]
		if err := p.Validate(); err != nil {
			return nil, nil, fmt.Errorf("faults[%d]: %w", i, err)
		}
		if declared["fault/"+p.Name] {
			return nil, nil, fmt.Errorf("faults[%d]: duplicate profile %q", i, p.Name)
		}
		declared["fault/"+p.Name] = true
		faults[p.Name] = &p
	}
	return latency, faults, nil
}
