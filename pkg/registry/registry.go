package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

type entry struct {
	op    *Operation
	tmpl  *pathTemplate
	order int
}

// Registry is an immutable snapshot of known operations.
type Registry struct {
	ops      []*Operation
	byID     map[string]*Operation
	byMethod map[string][]*entry
}

// Load builds a Registry. Operations are copied; later changes to ops do not
// affect the returned table.
func Load(ops []Operation) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]*Operation, len(ops)),
		byMethod: make(map[string][]*entry),
	}
	for i := range ops {
		op := ops[i]
		op.Method = strings.ToUpper(op.Method)
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		tmpl, _ := parseTemplate(op.Path)
		id := op.RouteID()
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("operations[%d]: duplicate route %q", i, id)
		}
		r.ops = append(r.ops, &op)
		r.byID[id] = &op
		r.byMethod[op.Method] = append(r.byMethod[op.Method], &entry{op: &op, tmpl: tmpl, order: i})
	}
	for _, entries := range r.byMethod {
		sort.SliceStable(entries, func(a, b int) bool {
			return entries[a].tmpl.outranks(entries[b].tmpl)
		})
	}
	return r, nil
}

// Lookup finds the operation for method and path and extracts its named
// path parameters. Among several matching templates the one with the longest
// static prefix wins.
func (r *Registry) Lookup(method, path string) (*Operation, map[string]string, bool) {
	if r == nil {
		return nil, nil, false
	}
	for _, e := range r.byMethod[strings.ToUpper(method)] {
		if params, ok := e.tmpl.match(path); ok {
			if params == nil {
				params = map[string]string{}
			}
			return e.op, params, true
		}
	}
	return nil, nil, false
}

// Operation returns the operation with the given route id.
func (r *Registry) Operation(id string) (*Operation, bool) {
	if r == nil {
		return nil, false
	}
	op, ok := r.byID[id]
	return op, ok
}

// Operations returns the operations in declaration order.
func (r *Registry) Operations() []*Operation {
	if r == nil {
		return nil
	}
	return append([]*Operation(nil), r.ops...)
}

// Len returns the number of operations.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ops)
}

// Holder publishes the current Registry to concurrent readers.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder returns a Holder serving r. A nil r serves an empty table.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	if r == nil {
		r, _ = Load(nil)
	}
	h.current.Store(r)
	return h
}

// Load returns the current snapshot. Callers that perform several reads
// should keep the returned pointer rather than calling Load repeatedly.
func (h *Holder) Load() *Registry {
	return h.current.Load()
}

// Swap publishes r and returns the previous snapshot.
func (h *Holder) Swap(r *Registry) *Registry {
	return h.current.Swap(r)
}

// Reload builds a new table from ops and publishes it. On error the current
// snapshot keeps serving.
func (h *Holder) Reload(ops []Operation) error {
	r, err := Load(ops)
	if err != nil {
		return err
	}
	h.current.Store(r)
	return nil
}

// Lookup runs Lookup against the current snapshot.
func (h *Holder) Lookup(method, path string) (*Operation, map[string]string, bool) {
	return h.Load().Lookup(method, path)
}
