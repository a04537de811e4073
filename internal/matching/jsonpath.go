package matching

import (
	"encoding/json"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// CompileJSONPath parses a JSONPath expression.
func CompileJSONPath(path string) (jp.Expr, error) {
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression %q: %w", path, err)
	}
	return x, nil
}

// evalJSONPath tests a compiled path against decoded JSON. With exists set
// it is an existence check; with a nil expected value any result matches;
// otherwise at least one result must equal expected.
func evalJSONPath(x jp.Expr, data any, expected any, exists *bool) bool {
	results := x.Get(data)
	if exists != nil {
		return (len(results) > 0) == *exists
	}
	if len(results) == 0 {
		return false
	}
	if expected == nil {
		return true
	}
	for _, r := range results {
		if valuesEqual(r, expected) {
			return true
		}
	}
	return false
}

// Extract returns the first value at path in a JSON document, rendered as a
// string. Objects and arrays are re-encoded as JSON.
func Extract(x jp.Expr, data any) (string, bool) {
	results := x.Get(data)
	if len(results) == 0 {
		return "", false
	}
	switch v := results[0].(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return stringify(v), true
	}
}
