package matching

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/mockcore/pkg/mock"
)

// predicate is the compiled form of a mock.Predicate.
type predicate struct {
	kind   mock.PredicateKind
	name   string
	value  any
	exists *bool

	path    jp.Expr
	program *vm.Program
}

// exprEnv is the shape expressions are type-checked against.
func exprEnv() map[string]any {
	return map[string]any{
		"method":  "",
		"path":    "",
		"raw":     "",
		"body":    map[string]any{},
		"query":   map[string]string{},
		"headers": map[string]string{},
		"params":  map[string]string{},
		"vars":    map[string]string{},
	}
}

func compilePredicate(p mock.Predicate) (*predicate, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := &predicate{kind: p.Kind, name: p.Name, value: p.Value, exists: p.Exists}
	switch p.Kind {
	case mock.PredicateMethod:
		c.value = strings.ToUpper(stringify(p.Value))
	case mock.PredicateJSONPath:
		x, err := CompileJSONPath(p.Path)
		if err != nil {
			return nil, err
		}
		c.path = x
	case mock.PredicateExpr:
		program, err := expr.Compile(p.Expression, expr.Env(exprEnv()), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q: %w", p.Expression, err)
		}
		c.program = program
	}
	return c, nil
}

// eval is the single dispatch point for every predicate variant.
func (p *predicate) eval(s *subject) bool {
	switch p.kind {
	case mock.PredicateMethod:
		return !s.message && strings.EqualFold(s.method, p.value.(string))
	case mock.PredicateHeader:
		if s.message {
			return false
		}
		return matchValues(s.header.Values(p.name), p.value, p.exists)
	case mock.PredicateQuery:
		if s.message {
			return false
		}
		return matchValues(s.query[p.name], p.value, p.exists)
	case mock.PredicateBody:
		return bytes.Equal(bytes.TrimSpace(s.raw), []byte(strings.TrimSpace(stringify(p.value))))
	case mock.PredicateJSONPath:
		data, ok := s.json()
		if !ok {
			return false
		}
		return evalJSONPath(p.path, data, p.value, p.exists)
	case mock.PredicateVar:
		v, ok := s.vars[p.name]
		if p.exists != nil {
			return ok == *p.exists
		}
		if !ok {
			return false
		}
		return p.value == nil || v == stringify(p.value)
	case mock.PredicateExpr:
		out, err := expr.Run(p.program, s.env())
		if err != nil {
			return false
		}
		b, ok := out.(bool)
		return ok && b
	default:
		return false
	}
}

// matchValues implements presence and equality tests for multi-valued
// header and query fields.
func matchValues(actual []string, expected any, exists *bool) bool {
	if exists != nil {
		return (len(actual) > 0) == *exists
	}
	if len(actual) == 0 {
		return false
	}
	if expected == nil {
		return true
	}
	want := stringify(expected)
	for _, a := range actual {
		if a == want {
			return true
		}
	}
	return false
}
