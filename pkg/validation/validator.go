package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/registry"
)

// Mode controls what a violation does.
type Mode string

const (
	// ModeOff skips validation entirely.
	ModeOff Mode = "off"
	// ModeWarn logs violations and lets the exchange through.
	ModeWarn Mode = "warn"
	// ModeBlock turns violations into ValidationError responses.
	ModeBlock Mode = "block"
)

// ParseMode parses a mode name. Empty means off.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeOff, nil
	case ModeOff, ModeWarn, ModeBlock:
		return m, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q (want off, warn or block)", s)
	}
}

// Config is the validation section of the configuration document.
type Config struct {
	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Validate checks the mode name.
func (c *Config) Validate() error {
	_, err := ParseMode(string(c.Mode))
	return err
}

// Validator validates exchanges against operation schemas.
type Validator struct {
	mode Mode
	log  *slog.Logger

	mu      sync.RWMutex
	schemas map[uint64]*jsonschema.Schema
}

// New creates a Validator. An empty mode means off.
func New(mode Mode, log *slog.Logger) *Validator {
	if mode == "" {
		mode = ModeOff
	}
	return &Validator{
		mode:    mode,
		log:     logging.Component(log, "validation"),
		schemas: make(map[uint64]*jsonschema.Schema),
	}
}

// Mode returns the configured mode.
func (v *Validator) Mode() Mode {
	if v == nil {
		return ModeOff
	}
	return v.mode
}

// ValidateRequest checks the request body against op's input schema. An
// empty body is not validated.
func (v *Validator) ValidateRequest(op *registry.Operation, req *mock.Request) error {
	if v.Mode() == ModeOff || op == nil || op.InputSchema == nil || len(req.Body) == 0 {
		return nil
	}
	return v.check("validate.request", op.InputSchema, req.Body)
}

// ValidateResponse checks the response body against op's output schema. An
// empty body (204, HEAD-style replies) is not validated.
func (v *Validator) ValidateResponse(op *registry.Operation, resp *mock.Response) error {
	if v.Mode() == ModeOff || op == nil || op.OutputSchema == nil || resp == nil || len(resp.Body) == 0 {
		return nil
	}
	return v.check("validate.response", op.OutputSchema, resp.Body)
}

func (v *Validator) check(op string, schema map[string]any, body []byte) error {
	compiled, err := v.compiled(schema)
	if err != nil {
		return mock.Wrap(mock.KindValidation, op, err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		e := mock.NewError(mock.KindValidation, op, "body is not valid JSON")
		e.Err = err
		return e
	}

	if err := compiled.Validate(doc); err != nil {
		e := mock.NewError(mock.KindValidation, op, "body does not match schema")
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			e.Details = flatten(verr, nil)
		} else {
			e.Err = err
		}
		return e
	}
	return nil
}

// flatten collects leaf causes as "location: message", sorted for stable output.
func flatten(err *jsonschema.ValidationError, out []string) []string {
	if len(err.Causes) == 0 {
		return append(out, fieldPath(err.InstanceLocation)+": "+err.Message)
	}
	for _, cause := range err.Causes {
		out = flatten(cause, out)
	}
	sort.Strings(out)
	return out
}

// fieldPath converts a JSON Pointer to dot notation; the root is "body".
func fieldPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "body"
	}
	return "body." + strings.ReplaceAll(ptr, "/", ".")
}

func (v *Validator) compiled(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := xxhash.Sum64(raw)

	v.mu.RLock()
	s, ok := v.schemas[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err = Compile(raw)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.schemas[key] = s
	v.mu.Unlock()
	return s, nil
}

// Compile compiles a JSON Schema document (Draft 2020-12).
func Compile(raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("schema.json")
}

// CheckSchemas compiles every declared schema so broken ones fail at load time.
func CheckSchemas(ops []registry.Operation) error {
	var details []string
	for i := range ops {
		op := &ops[i]
		for name, schema := range map[string]map[string]any{
			"inputSchema":  op.InputSchema,
			"outputSchema": op.OutputSchema,
		} {
			if schema == nil {
				continue
			}
			raw, err := json.Marshal(schema)
			if err == nil {
				_, err = Compile(raw)
			}
			if err != nil {
				details = append(details, fmt.Sprintf("operations[%d].%s: %v", i, name, err))
			}
		}
	}
	if len(details) == 0 {
		return nil
	}
	sort.Strings(details)
	e := mock.NewError(mock.KindConfigInvalid, "validation", "invalid schema")
	e.Details = details
	return e
}
