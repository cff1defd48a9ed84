// Package group declares set and list tables: a master row identified by the
// hash of its members, a Member part holding the member keys, and a Note part
// for free-form annotations.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/electwix/relkit/internal/derived"
	"github.com/electwix/relkit/internal/keyhash"
	"github.com/electwix/relkit/internal/link"
	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
	"github.com/electwix/relkit/internal/schema/model"
)

// ErrDeclined is returned by Fill when the confirmation hook refuses the
// insert.
var ErrDeclined = errors.New("group: insert declined")

// Spec describes a set or list.
type Spec struct {
	// Class is the master class, e.g. "SessionSet".
	Class string
	// Name prefixes the id and timestamp attributes.
	Name    string
	Comment string
	// Length of the id in hex characters; values outside 1..32 mean 32.
	Length int
	// Keys are the classes whose joined primary keys form the members.
	Keys []string
}

// FillOptions tunes Fill.
type FillOptions struct {
	// Note is attached to the group when non-empty.
	Note string
	// Confirm is asked before a new group is inserted. Nil inserts without
	// asking.
	Confirm func(prompt string) bool
	// Silent suppresses info logs.
	Silent bool
}

const masterDefinition = `
{name}_id                       : char({length})    # {comment}
---
members                         : int unsigned      # number of members
{name}_ts = CURRENT_TIMESTAMP   : timestamp         # automatic timestamp
`

const noteDefinition = `
-> master
note                            : varchar(1024)     # {kind} note
---
note_ts = CURRENT_TIMESTAMP     : timestamp         # automatic timestamp
`

type kind string

const (
	kindSet  kind = "set"
	kindList kind = "list"
)

// base holds what sets and lists share.
type base struct {
	kind   kind
	schema *schema.Schema
	spec   Spec
	length int
	logger logging.Logger
}

func declare(ctx context.Context, s *schema.Schema, spec Spec, k kind, member string) (*base, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%s %s: name is required", k, spec.Class)
	}
	if len(spec.Keys) == 0 {
		return nil, fmt.Errorf("%s %s: no key tables", k, spec.Class)
	}
	b := &base{
		kind:   k,
		schema: s,
		spec:   spec,
		length: link.ClampLength(spec.Length),
		logger: s.Logger().With(string(k), spec.Class),
	}
	comment := spec.Comment
	if comment == "" {
		comment = spec.Class
	}
	vars := strings.NewReplacer(
		"{name}", spec.Name,
		"{length}", fmt.Sprint(b.length),
		"{comment}", comment,
		"{kind}", string(k),
	)
	decls := []schema.Declaration{
		{Class: spec.Class, Tier: model.TierLookup, Definition: vars.Replace(masterDefinition)},
		{Class: spec.Class + ".Member", Definition: vars.Replace(member)},
		{Class: spec.Class + ".Note", Definition: vars.Replace(noteDefinition)},
	}
	for _, d := range decls {
		if _, err := s.Declare(ctx, d); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// withKeys substitutes one "-> Class" line per key class for {keys}.
func withKeys(def string, keys []string) string {
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = "-> " + k
	}
	return strings.ReplaceAll(def, "{keys}", strings.Join(lines, "\n"))
}

// Class returns the master class.
func (b *base) Class() string { return b.spec.Class }

// Master returns a query over the master table.
func (b *base) Master() (*relation.Query, error) { return b.schema.Table(b.spec.Class) }

// Member returns a query over the Member part.
func (b *base) Member() (*relation.Query, error) { return b.schema.Table(b.spec.Class + ".Member") }

// Note returns a query over the Note part.
func (b *base) Note() (*relation.Query, error) { return b.schema.Table(b.spec.Class + ".Note") }

// KeySource returns the key space members are drawn from.
func (b *base) KeySource() (*derived.Keys, error) {
	sources := make([]*relation.Query, len(b.spec.Keys))
	for i, class := range b.spec.Keys {
		q, err := b.schema.Table(class)
		if err != nil {
			return nil, err
		}
		sources[i] = q
	}
	return derived.New(b.spec.Class, sources...)
}

func (b *base) idAttr() string { return b.spec.Name + "_id" }

// id hashes the member keys in order.
func (b *base) id(keys []relation.Tuple) relation.Tuple {
	hashes := make(map[int]string, len(keys))
	for i, k := range keys {
		hashes[i] = keyhash.Hash(k)
	}
	return relation.Tuple{b.idAttr(): keyhash.Truncate(keyhash.Hash(hashes), b.length)}
}

func (b *base) info(opts FillOptions, msg string, args ...any) {
	if !opts.Silent {
		b.logger.Info(msg, args...)
	}
}

// store inserts the group for keys unless it exists, then attaches the note.
// members builds the Member rows for a new group.
func (b *base) store(ctx context.Context, keys []relation.Tuple, opts FillOptions, members func(id relation.Tuple) []relation.Tuple) (relation.Tuple, error) {
	master, err := b.Master()
	if err != nil {
		return nil, err
	}
	member, err := b.Member()
	if err != nil {
		return nil, err
	}
	id := b.id(keys)

	existing, err := master.Restrict(id).FetchColumn(ctx, "members")
	if err != nil {
		return nil, err
	}
	switch {
	case len(existing) == 1:
		stored, err := member.Restrict(id).Count(ctx)
		if err != nil {
			return nil, err
		}
		if recorded := toInt(existing[0]); recorded != stored {
			return nil, fmt.Errorf("%s %s: %d members recorded, %d stored", b.kind, id[b.idAttr()], recorded, stored)
		}
		b.info(opts, string(b.kind)+" already exists", b.idAttr(), id[b.idAttr()])
	case opts.Confirm == nil || opts.Confirm(fmt.Sprintf("Insert %s with %d keys?", b.kind, len(keys))):
		batches := []relation.Batch{
			{Into: master, Rows: []relation.Tuple{id.With(relation.Tuple{"members": len(keys)})}},
			{Into: member, Rows: members(id)},
		}
		if err := master.DB().InsertBatches(ctx, batches, relation.InsertOptions{SkipDuplicates: true}); err != nil {
			return nil, err
		}
		b.info(opts, string(b.kind)+" inserted", b.idAttr(), id[b.idAttr()], "members", len(keys))
	default:
		b.info(opts, string(b.kind)+" not inserted", b.idAttr(), id[b.idAttr()])
		return nil, ErrDeclined
	}

	if opts.Note != "" {
		note, err := b.Note()
		if err != nil {
			return nil, err
		}
		if err := note.Insert1(ctx, id.With(relation.Tuple{"note": opts.Note}), relation.InsertOptions{SkipDuplicates: true}); err != nil {
			return nil, err
		}
		b.info(opts, "note inserted", b.idAttr(), id[b.idAttr()])
	}
	return id, nil
}

// Members returns the Member rows of row, a master query restricted to one
// group. It fails with a *relation.MissingError when members are missing.
func (b *base) Members(ctx context.Context, row *relation.Query) (*relation.Query, error) {
	tuple, err := row.Fetch1(ctx)
	if err != nil {
		return nil, err
	}
	member, err := b.Member()
	if err != nil {
		return nil, err
	}
	id := tuple.Project(b.idAttr())
	members := member.Restrict(id)
	n, err := members.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n != toInt(tuple["members"]) {
		return nil, &relation.MissingError{Relation: row.Name(), Reason: "members are missing"}
	}
	return members, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		var out int
		_, _ = fmt.Sscan(fmt.Sprint(v), &out)
		return out
	}
}
