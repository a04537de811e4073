package synth

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
)

// ErrNothingToGenerate is returned when there is neither a schema nor an example.
var ErrNothingToGenerate = errors.New("synth: no schema or examples")

const (
	maxDepth      = 8
	maxArrayItems = 3
)

// epoch anchors generated dates so output does not depend on the clock.
var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Generator is the default Synthesizer.
type Generator struct{}

// New returns the default generator.
func New() *Generator {
	return &Generator{}
}

// Generate returns a JSON body for schema. When examples are present one of
// them is chosen (by seed) and the schema is not consulted.
func (g *Generator) Generate(schema map[string]any, seed int64, examples []any) ([]byte, error) {
	rng := newRand(seed)
	if len(examples) > 0 {
		return json.Marshal(examples[rng.IntN(len(examples))])
	}
	if len(schema) == 0 {
		return nil, ErrNothingToGenerate
	}

	s, err := toSchema(schema)
	if err != nil {
		return nil, err
	}
	w := &walker{rng: rng}
	return json.Marshal(w.generate(s, "", 0))
}

// toSchema converts a decoded schema document into the openapi3 model.
func toSchema(schema map[string]any) (*openapi3.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("synth: marshal schema: %w", err)
	}
	var s openapi3.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("synth: decode schema: %w", err)
	}
	return &s, nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

type walker struct {
	rng *rand.Rand
}

// generate follows example → enum → default → composition → type.
func (w *walker) generate(s *openapi3.Schema, name string, depth int) any {
	if s == nil || depth > maxDepth {
		return nil
	}
	if s.Example != nil {
		return s.Example
	}
	if len(s.Enum) > 0 {
		return s.Enum[w.rng.IntN(len(s.Enum))]
	}
	if s.Default != nil {
		return s.Default
	}

	if len(s.AllOf) > 0 {
		return w.allOf(s, depth)
	}
	if len(s.OneOf) > 0 {
		return w.generate(value(s.OneOf[0]), name, depth+1)
	}
	if len(s.AnyOf) > 0 {
		return w.generate(value(s.AnyOf[0]), name, depth+1)
	}

	switch {
	case s.Type.Is(openapi3.TypeObject):
		return w.object(s, depth)
	case s.Type.Is(openapi3.TypeArray):
		return w.array(s, depth)
	case s.Type.Is(openapi3.TypeString):
		return w.str(s, name)
	case s.Type.Is(openapi3.TypeInteger):
		return w.integer(s)
	case s.Type.Is(openapi3.TypeNumber):
		return w.number(s)
	case s.Type.Is(openapi3.TypeBoolean):
		return w.rng.IntN(2) == 0
	case len(s.Properties) > 0:
		return w.object(s, depth)
	}
	return nil
}

func value(ref *openapi3.SchemaRef) *openapi3.Schema {
	if ref == nil {
		return nil
	}
	return ref.Value
}

func sortedKeys(props openapi3.Schemas) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (w *walker) object(s *openapi3.Schema, depth int) any {
	obj := make(map[string]any, len(s.Properties))
	for _, name := range sortedKeys(s.Properties) {
		obj[name] = w.generate(value(s.Properties[name]), name, depth+1)
	}
	return obj
}

func (w *walker) allOf(s *openapi3.Schema, depth int) any {
	merged := make(map[string]any)
	for _, ref := range s.AllOf {
		if m, ok := w.generate(value(ref), "", depth+1).(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
	}
	for _, name := range sortedKeys(s.Properties) {
		merged[name] = w.generate(value(s.Properties[name]), name, depth+1)
	}
	return merged
}

func (w *walker) array(s *openapi3.Schema, depth int) any {
	count := 1
	if int(s.MinItems) > count {
		count = int(s.MinItems)
	}
	if s.MaxItems != nil && int(*s.MaxItems) < count {
		count = int(*s.MaxItems)
	}
	if count > maxArrayItems {
		count = maxArrayItems
	}
	items := make([]any, count)
	for i := range items {
		if s.Items == nil {
			items[i] = "item"
			continue
		}
		items[i] = w.generate(value(s.Items), "", depth+1)
	}
	return items
}

func (w *walker) integer(s *openapi3.Schema) any {
	lo, hi := int64(0), int64(1000)
	if s.Min != nil {
		lo = int64(*s.Min)
	}
	if s.Max != nil {
		hi = int64(*s.Max)
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		return lo
	}
	return lo + w.rng.Int64N(hi-lo+1)
}

func (w *walker) number(s *openapi3.Schema) any {
	lo, hi := 0.0, 1000.0
	if s.Min != nil {
		lo = *s.Min
	}
	if s.Max != nil {
		hi = *s.Max
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	v := lo + w.rng.Float64()*(hi-lo)
	return float64(int64(v*100)) / 100
}

func (w *walker) str(s *openapi3.Schema, name string) any {
	if v, ok := w.byFormat(s.Format); ok {
		return v
	}
	if v, ok := w.byName(name); ok {
		return v
	}
	n := 8
	if int(s.MinLength) > n {
		n = int(s.MinLength)
	}
	if s.MaxLength != nil && int(*s.MaxLength) < n {
		n = int(*s.MaxLength)
	}
	return w.word(n)
}

func (w *walker) byFormat(format string) (string, bool) {
	switch format {
	case "uuid":
		return w.uuid(), true
	case "date-time":
		return w.instant().Format(time.RFC3339), true
	case "date":
		return w.instant().Format(time.DateOnly), true
	case "time":
		return w.instant().Format("15:04:05Z"), true
	case "email":
		return w.word(6) + "@example.com", true
	case "uri", "url":
		return "https://example.com/" + w.word(6), true
	case "hostname":
		return w.word(6) + ".example.com", true
	case "ipv4":
		return fmt.Sprintf("10.%d.%d.%d", w.rng.IntN(256), w.rng.IntN(256), 1+w.rng.IntN(254)), true
	case "byte":
		return "dGVzdA==", true
	}
	return "", false
}

var firstNames = []string{"Ada", "Grace", "Linus", "Ken", "Barbara", "Edsger", "Margaret", "Dennis"}

func (w *walker) byName(name string) (string, bool) {
	lower := strings.ToLower(name)
	switch {
	case lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "uuid"):
		return w.uuid(), true
	case strings.Contains(lower, "email"):
		return strings.ToLower(firstNames[w.rng.IntN(len(firstNames))]) + "@example.com", true
	case lower == "name" || strings.HasSuffix(lower, "name"):
		return firstNames[w.rng.IntN(len(firstNames))], true
	case strings.HasSuffix(lower, "_at") || strings.HasSuffix(lower, "date"):
		return w.instant().Format(time.RFC3339), true
	}
	return "", false
}

const letters = "abcdefghijklmnopqrstuvwxyz"

func (w *walker) word(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[w.rng.IntN(len(letters))]
	}
	return string(b)
}

func (w *walker) instant() time.Time {
	return epoch.Add(time.Duration(w.rng.Int64N(365*24*3600)) * time.Second)
}

func (w *walker) uuid() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], w.rng.Uint64())
	binary.BigEndian.PutUint64(b[8:], w.rng.Uint64())
	id, _ := uuid.FromBytes(b[:])
	// version 4, RFC 4122 variant
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}
