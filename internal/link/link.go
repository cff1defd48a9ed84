// Package link declares polymorphic link tables: a master table of hashed
// link ids plus one part table per linked table.
package link

import (
	"context"
	"fmt"
	"strings"

	"github.com/electwix/relkit/internal/keyhash"
	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
	"github.com/electwix/relkit/internal/schema/model"
)

// Spec describes a link.
type Spec struct {
	// Class is the master class, e.g. "SessionLink".
	Class string
	// Name prefixes the master attributes: {name}_id, {name}_type, {name}_ts.
	Name    string
	Comment string
	// Length of the link id in hex characters; values outside 1..32 mean 32.
	Length int
	// Links are the classes of the linked tables. Each becomes a part named
	// after the last segment of its class.
	Links []string
}

// Link is a declared link master with its parts.
type Link struct {
	schema *schema.Schema
	spec   Spec
	length int
	parts  []part
	logger logging.Logger
}

type part struct {
	name   string
	class  string
	linked string
}

const masterDefinition = `
{name}_id                       : char({length})    # {comment}
---
{name}_type                     : varchar(128)      # {name} type
{name}_ts = CURRENT_TIMESTAMP   : timestamp         # automatic timestamp
`

const partDefinition = `
-> master
---
-> {foreign}
`

func expand(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// ClampLength maps a configured id length to 1..32.
func ClampLength(n int) int {
	if n <= 0 || n > keyhash.Size {
		return keyhash.Size
	}
	return n
}

// Declare creates the master and part tables for spec.
func Declare(ctx context.Context, s *schema.Schema, spec Spec) (*Link, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("link %s: name is required", spec.Class)
	}
	if len(spec.Links) == 0 {
		return nil, fmt.Errorf("link %s: no linked tables", spec.Class)
	}
	l := &Link{
		schema: s,
		spec:   spec,
		length: ClampLength(spec.Length),
		logger: s.Logger().With("link", spec.Class),
	}
	comment := spec.Comment
	if comment == "" {
		comment = spec.Class
	}

	seen := make(map[string]bool)
	for _, linked := range spec.Links {
		name := linked[strings.LastIndex(linked, ".")+1:]
		if seen[name] {
			return nil, fmt.Errorf("link %s: duplicate part %s", spec.Class, name)
		}
		seen[name] = true
		l.parts = append(l.parts, part{name: name, class: spec.Class + "." + name, linked: linked})
	}

	master := expand(masterDefinition, map[string]string{
		"name":    spec.Name,
		"length":  fmt.Sprint(l.length),
		"comment": comment,
	})
	if _, err := s.Declare(ctx, schema.Declaration{Class: spec.Class, Tier: model.TierLookup, Definition: master}); err != nil {
		return nil, err
	}
	for _, p := range l.parts {
		def := expand(partDefinition, map[string]string{"foreign": p.linked})
		if _, err := s.Declare(ctx, schema.Declaration{Class: p.class, Definition: def}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Class returns the master class.
func (l *Link) Class() string { return l.spec.Class }

// Name returns the attribute prefix.
func (l *Link) Name() string { return l.spec.Name }

// Length returns the id length.
func (l *Link) Length() int { return l.length }

// Types returns the part names in declaration order.
func (l *Link) Types() []string {
	out := make([]string, len(l.parts))
	for i, p := range l.parts {
		out[i] = p.name
	}
	return out
}

// Master returns a query over the master table.
func (l *Link) Master() (*relation.Query, error) { return l.schema.Table(l.spec.Class) }

// Part returns a query over the part table of the given type.
func (l *Link) Part(typ string) (*relation.Query, error) {
	p, ok := l.part(typ)
	if !ok {
		return nil, fmt.Errorf("link %s has no type %q", l.spec.Class, typ)
	}
	return l.schema.Table(p.class)
}

// Linked returns a query over the table linked by the given type.
func (l *Link) Linked(typ string) (*relation.Query, error) {
	p, ok := l.part(typ)
	if !ok {
		return nil, fmt.Errorf("link %s has no type %q", l.spec.Class, typ)
	}
	return l.schema.Table(p.linked)
}

func (l *Link) part(typ string) (part, bool) {
	for _, p := range l.parts {
		if p.name == typ {
			return p, true
		}
	}
	return part{}, false
}

func (l *Link) idAttr() string   { return l.spec.Name + "_id" }
func (l *Link) typeAttr() string { return l.spec.Name + "_type" }

// ID computes the link id of a linked key.
func (l *Link) ID(typ string, key relation.Tuple) string {
	return keyhash.Truncate(keyhash.Hash(key.With(relation.Tuple{l.typeAttr(): typ})), l.length)
}

// Fill inserts links for every linked row that has none and returns the
// number of keys inserted.
func (l *Link) Fill(ctx context.Context) (int, error) {
	total := 0
	for _, p := range l.parts {
		n, err := l.FillType(ctx, p.name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// FillType fills one part.
func (l *Link) FillType(ctx context.Context, typ string) (int, error) {
	partQ, err := l.Part(typ)
	if err != nil {
		return 0, err
	}
	linked, err := l.Linked(typ)
	if err != nil {
		return 0, err
	}
	master, err := l.Master()
	if err != nil {
		return 0, err
	}

	keys, err := linked.Minus(partQ).FetchKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("fill %s.%s: %w", l.spec.Class, typ, err)
	}
	if len(keys) == 0 {
		l.logger.Info("no new keys to insert", "type", typ)
		return 0, nil
	}
	l.logger.Info("inserting keys", "type", typ, "count", len(keys))

	masterRows := make([]relation.Tuple, len(keys))
	partRows := make([]relation.Tuple, len(keys))
	for i, key := range keys {
		id := relation.Tuple{l.idAttr(): l.ID(typ, key)}
		masterRows[i] = id.With(relation.Tuple{l.typeAttr(): typ})
		partRows[i] = id.With(key)
	}
	opts := relation.InsertOptions{SkipDuplicates: true}
	batches := []relation.Batch{{Into: master, Rows: masterRows}, {Into: partQ, Rows: partRows}}
	if err := master.DB().InsertBatches(ctx, batches, opts); err != nil {
		return 0, fmt.Errorf("fill %s.%s: %w", l.spec.Class, typ, err)
	}
	return len(keys), nil
}

// Clean deletes master rows that no part refers to.
func (l *Link) Clean(ctx context.Context) (int64, error) {
	orphans, err := l.Master()
	if err != nil {
		return 0, err
	}
	for _, p := range l.parts {
		partQ, err := l.schema.Table(p.class)
		if err != nil {
			return 0, err
		}
		orphans = orphans.Minus(partQ)
	}
	n, err := orphans.Delete(ctx)
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", l.spec.Class, err)
	}
	if n > 0 {
		l.logger.Info("deleted orphan links", "count", n)
	}
	return n, nil
}

// Resolve maps row, a master query restricted to one link, to the linked
// table restricted to the linked row.
func (l *Link) Resolve(ctx context.Context, row *relation.Query) (*relation.Query, error) {
	typ, err := row.FetchColumn(ctx, l.typeAttr())
	if err != nil {
		return nil, err
	}
	if len(typ) != 1 {
		return nil, &relation.RestrictionError{Relation: row.Name(), Count: len(typ)}
	}
	name, _ := typ[0].(string)
	partQ, err := l.Part(name)
	if err != nil {
		return nil, err
	}
	linked, err := l.Linked(name)
	if err != nil {
		return nil, err
	}
	return linked.RestrictBy(partQ.RestrictBy(row)), nil
}

// Query returns the master rows of the given type, optionally restricted to
// links whose linked row matches key.
func (l *Link) Query(ctx context.Context, typ string, key relation.Tuple) (*relation.Query, error) {
	master, err := l.Master()
	if err != nil {
		return nil, err
	}
	keys := master.Restrict(relation.Tuple{l.typeAttr(): typ})
	ok, err := keys.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &relation.MissingError{Relation: master.Name(), Reason: "link type does not exist"}
	}

	partQ, err := l.Part(typ)
	if err != nil {
		return nil, err
	}
	linked, err := l.Linked(typ)
	if err != nil {
		return nil, err
	}
	links := partQ.Join(linked)
	if key != nil {
		links = links.Restrict(key)
	}
	ok, err = links.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &relation.MissingError{Relation: master.Name(), Reason: "no links found"}
	}
	return keys.RestrictBy(links), nil
}
