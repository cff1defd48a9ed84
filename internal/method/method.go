// Package method declares lookup tables whose rows name callable methods.
// A method can only be called through a restriction that includes its row.
package method

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
	"github.com/electwix/relkit/internal/schema/model"
)

// Func is a registered method. row is the caller's restriction of the
// method table.
type Func func(ctx context.Context, row *relation.Query) (any, error)

// Spec describes a method table. Methods may map to nil and be bound later.
type Spec struct {
	Class   string
	Name    string
	Comment string
	Methods map[string]Func
}

// Table is a declared method table.
type Table struct {
	schema *schema.Schema
	spec   Spec
	names  []string

	mu    sync.RWMutex
	funcs map[string]Func
}

// Declare creates the method table and inserts one row per method.
func Declare(ctx context.Context, s *schema.Schema, spec Spec) (*Table, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("method %s: name is required", spec.Class)
	}
	if len(spec.Methods) == 0 {
		return nil, fmt.Errorf("method %s: no methods", spec.Class)
	}
	comment := spec.Comment
	if comment == "" {
		comment = spec.Class
	}
	t := &Table{
		schema: s,
		spec:   spec,
		names:  slices.Sorted(maps.Keys(spec.Methods)),
		funcs:  maps.Clone(spec.Methods),
	}

	contents := make([]map[string]any, len(t.names))
	for i, name := range t.names {
		contents[i] = map[string]any{t.attr(): name}
	}
	def := fmt.Sprintf("%s_method : varchar(128) # %s\n", spec.Name, comment)
	if _, err := s.Declare(ctx, schema.Declaration{
		Class:      spec.Class,
		Tier:       model.TierLookup,
		Definition: def,
		Contents:   contents,
	}); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) attr() string { return t.spec.Name + "_method" }

// Names returns the registered method names in sorted order.
func (t *Table) Names() []string { return slices.Clone(t.names) }

// Query returns a query over the method table.
func (t *Table) Query() (*relation.Query, error) { return t.schema.Table(t.spec.Class) }

// Bind attaches fn to a declared method name.
func (t *Table) Bind(name string, fn Func) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.funcs[name]; !ok {
		return fmt.Errorf("method %s has no method %q", t.spec.Class, name)
	}
	t.funcs[name] = fn
	return nil
}

// Call runs the named method. It fails with a *relation.RestrictionError
// when row does not include the method's row.
func (t *Table) Call(ctx context.Context, row *relation.Query, name string) (any, error) {
	t.mu.RLock()
	fn, ok := t.funcs[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("method %s has no method %q", t.spec.Class, name)
	}
	if fn == nil {
		return nil, fmt.Errorf("method %s.%s is not bound", t.spec.Class, name)
	}
	n, err := row.Restrict(relation.Tuple{t.attr(): name}).Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &relation.RestrictionError{
			Relation: row.Name(),
			Reason:   fmt.Sprintf("table restriction does not include %s", name),
		}
	}
	return fn(ctx, row)
}
