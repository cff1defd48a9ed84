package group

import (
	"context"
	"fmt"

	"github.com/electwix/relkit/internal/link"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
)

const listMemberDefinition = `
-> master
{name}_index                    : int unsigned      # list index
---
{keys}
`

// List is an ordered group of keys; the same key may appear more than once.
type List struct {
	*base
}

// DeclareList creates the list tables.
func DeclareList(ctx context.Context, s *schema.Schema, spec Spec) (*List, error) {
	b, err := declare(ctx, s, spec, kindList, withKeys(listMemberDefinition, spec.Keys))
	if err != nil {
		return nil, err
	}
	return &List{base: b}, nil
}

// DeclareLinkList creates a list whose members are rows of l's master.
func DeclareLinkList(ctx context.Context, s *schema.Schema, spec Spec, l *link.Link) (*List, error) {
	spec.Keys = []string{l.Class()}
	return DeclareList(ctx, s, spec)
}

func (l *List) indexAttr() string { return l.spec.Name + "_index" }

// Fill stores the list whose i-th member is the single key selected by
// rs[i] and returns its id.
func (l *List) Fill(ctx context.Context, rs []relation.Restriction, opts FillOptions) (relation.Tuple, error) {
	src, err := l.KeySource()
	if err != nil {
		return nil, err
	}
	keys := make([]relation.Tuple, len(rs))
	for i, r := range rs {
		k, err := src.Apply(r).Item(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: member %d: %w", l.spec.Class, i, err)
		}
		keys[i] = k
	}
	return l.store(ctx, keys, opts, func(id relation.Tuple) []relation.Tuple {
		rows := make([]relation.Tuple, len(keys))
		for i, k := range keys {
			rows[i] = k.With(id, relation.Tuple{l.indexAttr(): i})
		}
		return rows
	})
}

// Keys returns the member keys of row in list order.
func (l *List) Keys(ctx context.Context, row *relation.Query) ([]relation.Tuple, error) {
	members, err := l.Members(ctx, row)
	if err != nil {
		return nil, err
	}
	rows, err := members.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	src, err := l.KeySource()
	if err != nil {
		return nil, err
	}
	attrs := src.PrimaryKey()
	out := make([]relation.Tuple, len(rows))
	for i, r := range rows {
		out[i] = r.Project(attrs...)
	}
	return out, nil
}
