package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
)

var (
	templateRegex   = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)
	randomIntRegex  = regexp.MustCompile(`^random\.int(?:\(\s*(-?\d+)\s*,\s*(-?\d+)\s*\)|\s+(-?\d+)\s+(-?\d+))?$`)
	randomStrRegex  = regexp.MustCompile(`^random\.string(?:\(\s*(\d+)\s*\))?$`)
	funcCallRegex   = regexp.MustCompile(`^(upper|lower|default)\((.+)\)$`)
	quotedArgRegexp = regexp.MustCompile(`^\s*(?:"([^"]*)"|'([^']*)')\s*$`)
)

// Render replaces every {{expression}} in s.
func Render(s string, ctx *Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	if ctx == nil {
		ctx = &Context{}
	}
	return templateRegex.ReplaceAllStringFunc(s, func(match string) string {
		inner := templateRegex.FindStringSubmatch(match)
		return evaluate(strings.TrimSpace(inner[1]), ctx)
	})
}

// RenderBytes is Render for byte slices.
func RenderBytes(b []byte, ctx *Context) []byte {
	return []byte(Render(string(b), ctx))
}

// RenderValue renders the string leaves of a decoded JSON or YAML value and
// returns a copy safe to encode. Keys of map[any]any become strings.
func RenderValue(v any, ctx *Context) any {
	switch t := v.(type) {
	case string:
		return Render(t, ctx)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = RenderValue(val, ctx)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = RenderValue(val, ctx)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = RenderValue(val, ctx)
		}
		return out
	}
	return v
}

// HasTemplate reports whether s contains a placeholder.
func HasTemplate(s string) bool {
	return templateRegex.MatchString(s)
}

func evaluate(expr string, ctx *Context) string {
	switch expr {
	case "now":
		return time.Now().UTC().Format(time.RFC3339)
	case "timestamp":
		return strconv.FormatInt(time.Now().Unix(), 10)
	case "timestamp.unix_ms":
		return strconv.FormatInt(time.Now().UnixMilli(), 10)
	case "uuid":
		return funcUUID(ctx.Rand)
	case "message":
		return string(ctx.Message)
	}

	if m := randomIntRegex.FindStringSubmatch(expr); m != nil {
		lo, hi := 0, 100
		switch {
		case m[1] != "":
			lo, _ = strconv.Atoi(m[1])
			hi, _ = strconv.Atoi(m[2])
		case m[3] != "":
			lo, _ = strconv.Atoi(m[3])
			hi, _ = strconv.Atoi(m[4])
		}
		return funcRandomInt(ctx.Rand, lo, hi)
	}
	if m := randomStrRegex.FindStringSubmatch(expr); m != nil {
		n := 10
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		return funcRandomString(ctx.Rand, n)
	}
	if m := funcCallRegex.FindStringSubmatch(expr); m != nil {
		return evaluateCall(m[1], m[2], ctx)
	}

	switch {
	case strings.HasPrefix(expr, "request."):
		return evaluateRequest(expr[len("request."):], ctx)
	case strings.HasPrefix(expr, "message."):
		data, ok := ctx.message()
		if !ok {
			return ""
		}
		return lookupPath(data, expr[len("message."):])
	case strings.HasPrefix(expr, "vars."):
		return ctx.Vars[expr[len("vars."):]]
	}
	return ""
}

func evaluateCall(name, args string, ctx *Context) string {
	switch name {
	case "upper":
		return strings.ToUpper(resolveArg(args, ctx))
	case "lower":
		return strings.ToLower(resolveArg(args, ctx))
	case "default":
		i := strings.LastIndexByte(args, ',')
		if i < 0 {
			return resolveArg(args, ctx)
		}
		return funcDefault(resolveArg(args[:i], ctx), resolveArg(args[i+1:], ctx))
	}
	return ""
}

// resolveArg treats quoted arguments as literals and anything else as an
// expression.
func resolveArg(arg string, ctx *Context) string {
	if m := quotedArgRegexp.FindStringSubmatch(arg); m != nil {
		return m[1] + m[2]
	}
	return evaluate(strings.TrimSpace(arg), ctx)
}

func evaluateRequest(field string, ctx *Context) string {
	req := ctx.Request
	if req == nil {
		return ""
	}
	name, rest, _ := strings.Cut(field, ".")
	switch name {
	case "method":
		return req.Method
	case "path":
		return req.Path
	case "identity":
		return req.Identity
	case "query":
		return req.Query.Get(rest)
	case "header":
		return req.Header.Get(rest)
	case "pathParam":
		return req.PathParams[rest]
	case "body":
		if rest == "" {
			return string(req.Body)
		}
		data, ok := req.JSON()
		if !ok {
			return ""
		}
		return lookupPath(data, rest)
	}
	return ""
}

// lookupPath resolves a dotted path ("user.tags[0]") through JSONPath.
func lookupPath(data any, path string) string {
	x, err := jp.ParseString("$." + path)
	if err != nil {
		return ""
	}
	results := x.Get(data)
	if len(results) == 0 {
		return ""
	}
	switch v := results[0].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
