package group

import (
	"context"

	"github.com/electwix/relkit/internal/link"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
)

const setMemberDefinition = `
-> master
{keys}
---
member_id                       : int unsigned      # member id
`

// Set is an unordered group of keys.
type Set struct {
	*base
}

// DeclareSet creates the set tables.
func DeclareSet(ctx context.Context, s *schema.Schema, spec Spec) (*Set, error) {
	b, err := declare(ctx, s, spec, kindSet, withKeys(setMemberDefinition, spec.Keys))
	if err != nil {
		return nil, err
	}
	return &Set{base: b}, nil
}

// DeclareLinkSet creates a set whose members are rows of l's master.
func DeclareLinkSet(ctx context.Context, s *schema.Schema, spec Spec, l *link.Link) (*Set, error) {
	spec.Keys = []string{l.Class()}
	return DeclareSet(ctx, s, spec)
}

// Fill stores the set of keys selected by r and returns its id.
func (s *Set) Fill(ctx context.Context, r relation.Restriction, opts FillOptions) (relation.Tuple, error) {
	src, err := s.KeySource()
	if err != nil {
		return nil, err
	}
	keys, err := src.Apply(r).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, keys, opts, func(id relation.Tuple) []relation.Tuple {
		rows := make([]relation.Tuple, len(keys))
		for i, k := range keys {
			rows[i] = k.With(id, relation.Tuple{"member_id": i})
		}
		return rows
	})
}

// Get returns the master row of the set whose members are exactly the keys
// selected by r.
func (s *Set) Get(ctx context.Context, r relation.Restriction) (*relation.Query, error) {
	src, err := s.KeySource()
	if err != nil {
		return nil, err
	}
	master, err := s.Master()
	if err != nil {
		return nil, err
	}
	member, err := s.Member()
	if err != nil {
		return nil, err
	}

	keys := src.Apply(r).Key()
	n, err := keys.Count(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := master.Restrict(relation.Tuple{"members": n}).FetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range candidates {
		matched, err := member.Restrict(id).RestrictBy(keys).Count(ctx)
		if err != nil {
			return nil, err
		}
		if matched == n {
			return master.Restrict(id), nil
		}
	}
	return nil, &relation.MissingError{Relation: master.Name(), Reason: "member set does not exist"}
}
