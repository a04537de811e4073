package registry

import (
	"fmt"
	"strings"
)

type segment struct {
	literal string
	param   string
}

// pathTemplate is a parsed "/users/{id}/orders" style template.
type pathTemplate struct {
	raw      string
	segments []segment

	// staticPrefix is the number of characters before the first parameter.
	staticPrefix int
	staticCount  int
}

func parseTemplate(raw string) (*pathTemplate, error) {
	t := &pathTemplate{raw: raw, staticPrefix: len(raw)}
	if i := strings.IndexByte(raw, '{'); i >= 0 {
		t.staticPrefix = i
	}

	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return t, nil
	}
	seen := make(map[string]bool)
	for _, part := range strings.Split(trimmed, "/") {
		lb := strings.IndexByte(part, '{')
		rb := strings.IndexByte(part, '}')
		switch {
		case lb < 0 && rb < 0:
			t.segments = append(t.segments, segment{literal: part})
			t.staticCount++
		case lb == 0 && rb == len(part)-1 && len(part) > 2:
			name := part[1 : len(part)-1]
			if strings.ContainsAny(name, "{}") {
				return nil, fmt.Errorf("path %q: malformed parameter %q", raw, part)
			}
			if seen[name] {
				return nil, fmt.Errorf("path %q: duplicate parameter %q", raw, name)
			}
			seen[name] = true
			t.segments = append(t.segments, segment{param: name})
		default:
			return nil, fmt.Errorf("path %q: parameters must span a whole segment, got %q", raw, part)
		}
	}
	return t, nil
}

// match returns the extracted parameters when path fits the template.
func (t *pathTemplate) match(path string) (map[string]string, bool) {
	trimmed := strings.Trim(path, "/")
	var parts []string
	if trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}
	if len(parts) != len(t.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range t.segments {
		if seg.param == "" {
			if seg.literal != parts[i] {
				return nil, false
			}
			continue
		}
		if parts[i] == "" {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[seg.param] = parts[i]
	}
	return params, true
}

// outranks reports whether t should be preferred over o when both match.
func (t *pathTemplate) outranks(o *pathTemplate) bool {
	if t.staticPrefix != o.staticPrefix {
		return t.staticPrefix > o.staticPrefix
	}
	return t.staticCount > o.staticCount
}
