// Package derived provides key spaces derived from the primary keys of other
// tables, and guards that require key tables to be restricted to one tuple.
package derived

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/electwix/relkit/internal/relation"
)

// Keys is the key space spanned by the natural join of its sources' primary
// key projections, narrowed by an AND list of restrictions. Keys values are
// immutable.
type Keys struct {
	name     string
	sources  []*relation.Query
	restrict []relation.Restriction
}

// New derives a key space from sources.
func New(name string, sources ...*relation.Query) (*Keys, error) {
	if len(sources) == 0 {
		return nil, errors.New("derived keys need at least one source")
	}
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("derived keys %s: source %d is nil", name, i)
		}
	}
	return &Keys{name: name, sources: sources}, nil
}

// Name identifies the key space.
func (k *Keys) Name() string { return k.name }

// Source returns the unrestricted key source.
func (k *Keys) Source() *relation.Query {
	src := k.sources[0].Proj()
	for _, s := range k.sources[1:] {
		src = src.Join(s.Proj())
	}
	return src.Rename(k.name)
}

// PrimaryKey returns the key attributes.
func (k *Keys) PrimaryKey() []string { return k.Source().PrimaryKey() }

// Apply returns the keys narrowed by rs in addition to the existing
// restrictions.
func (k *Keys) Apply(rs ...relation.Restriction) *Keys {
	out := &Keys{name: k.name, sources: k.sources}
	out.restrict = append(append(out.restrict, k.restrict...), rs...)
	return out
}

// Restrict narrows the keys to those matching cond.
func (k *Keys) Restrict(cond relation.Tuple) *Keys { return k.Apply(relation.Match(cond)) }

// RestrictBy narrows the keys to those matching some tuple of q.
func (k *Keys) RestrictBy(q *relation.Query) *Keys { return k.Apply(relation.In(q)) }

// Key returns the restricted key projection.
func (k *Keys) Key() *relation.Query {
	return k.Source().Apply(k.restrict...).Proj()
}

// Count returns the number of keys.
func (k *Keys) Count(ctx context.Context) (int, error) { return k.Key().Count(ctx) }

// Exists reports whether any key remains.
func (k *Keys) Exists(ctx context.Context) (bool, error) { return k.Key().Exists(ctx) }

// Item returns the single key, or a *relation.RestrictionError.
func (k *Keys) Item(ctx context.Context) (relation.Tuple, error) { return k.Key().Fetch1(ctx) }

// FetchKey is Item; it lets Keys act as a cacheable row.
func (k *Keys) FetchKey(ctx context.Context) (relation.Tuple, error) { return k.Item(ctx) }

// Fetch returns all keys ordered by primary key.
func (k *Keys) Fetch(ctx context.Context) ([]relation.Tuple, error) { return k.Key().Fetch(ctx) }

func (k *Keys) String() string {
	return k.name + " x [" + strings.Join(k.PrimaryKey(), ", ") + "]"
}

// Check fails with a *relation.RestrictionError naming the first table that
// restriction does not narrow to exactly one tuple.
func Check(ctx context.Context, restriction *relation.Query, tables ...*relation.Query) error {
	for _, t := range tables {
		n, err := t.RestrictBy(restriction).Count(ctx)
		if err != nil {
			return err
		}
		if n != 1 {
			return &relation.RestrictionError{
				Relation: t.Name(),
				Count:    n,
				Reason:   fmt.Sprintf("%s must be restricted to a single tuple", t.Name()),
			}
		}
	}
	return nil
}

// Check runs the package Check with the restricted keys.
func (k *Keys) Check(ctx context.Context, tables ...*relation.Query) error {
	return Check(ctx, k.Key(), tables...)
}

// Guard calls fn after Check passes.
func Guard[T any](ctx context.Context, restriction *relation.Query, tables []*relation.Query, fn func(context.Context) (T, error)) (T, error) {
	if err := Check(ctx, restriction, tables...); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}
