// Package model defines the normalized table catalog produced from table
// definitions.
package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Tier classifies how a table's contents are produced.
type Tier int

const (
	// TierManual tables are filled by users.
	TierManual Tier = iota
	// TierLookup tables hold fixed contents inserted at declaration.
	TierLookup
	// TierComputed tables are filled by populate routines.
	TierComputed
	// TierPart tables belong to a master table.
	TierPart
)

// String returns the tier name used in configuration files.
func (t Tier) String() string {
	switch t {
	case TierManual:
		return "manual"
	case TierLookup:
		return "lookup"
	case TierComputed:
		return "computed"
	case TierPart:
		return "part"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier name. The empty string selects TierManual.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "", "manual":
		return TierManual, nil
	case "lookup":
		return TierLookup, nil
	case "computed":
		return TierComputed, nil
	case "part":
		return TierPart, nil
	default:
		return TierManual, fmt.Errorf("unknown table tier %q", s)
	}
}

// Catalog holds declared tables in declaration order.
type Catalog struct {
	Tables map[string]*Table
	order  []string
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{Tables: make(map[string]*Table)}
}

// Add registers a table. Re-adding a name replaces the table but keeps its
// original position.
func (c *Catalog) Add(t *Table) {
	if _, ok := c.Tables[t.Name]; !ok {
		c.order = append(c.order, t.Name)
	}
	c.Tables[t.Name] = t
}

// Get returns the named table.
func (c *Catalog) Get(name string) (*Table, bool) {
	t, ok := c.Tables[name]
	return t, ok
}

// Ordered returns tables in declaration order.
func (c *Catalog) Ordered() []*Table {
	out := make([]*Table, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.Tables[name])
	}
	return out
}

// Table models a declared table.
type Table struct {
	// Name is the SQL table name.
	Name string
	// Class is the CamelCase class name the table was declared under.
	Class string
	Tier  Tier
	// Master is the master table's name for part tables.
	Master      string
	Doc         string
	Columns     []*Column
	PrimaryKey  *PrimaryKey
	ForeignKeys []*ForeignKey
	// Contents are rows inserted when a lookup table is declared.
	Contents []map[string]any
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return nil, false
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// PrimaryKeyColumns returns the primary key column names.
func (t *Table) PrimaryKeyColumns() []string {
	if t.PrimaryKey == nil {
		return nil
	}
	return slices.Clone(t.PrimaryKey.Columns)
}

// FilepathColumns returns columns bound to a file store.
func (t *Table) FilepathColumns() []*Column {
	var out []*Column
	for _, col := range t.Columns {
		if col.Type.Store != "" {
			out = append(out, col)
		}
	}
	return out
}

// Column describes a table column.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
	Default *Value
	Comment string
}

// ColumnType is a parsed attribute type such as "int unsigned",
// "varchar(64)" or "filepath@raw".
type ColumnType struct {
	// Name is the lowercase base type, e.g. "int" or "varchar".
	Name     string
	Args     []string
	Unsigned bool
	// Store names the file store for filepath attributes.
	Store string
}

// String renders the type in definition syntax.
func (ct ColumnType) String() string {
	var b strings.Builder
	b.WriteString(ct.Name)
	if len(ct.Args) > 0 {
		b.WriteString("(")
		b.WriteString(strings.Join(ct.Args, ","))
		b.WriteString(")")
	}
	if ct.Unsigned {
		b.WriteString(" unsigned")
	}
	if ct.Store != "" {
		b.WriteString("@")
		b.WriteString(ct.Store)
	}
	return b.String()
}

// PrimaryKey captures a table's primary key.
type PrimaryKey struct {
	Columns []string
}

// ForeignKey models a reference to another table's primary key.
type ForeignKey struct {
	Columns []string
	Ref     ForeignKeyRef
}

// ForeignKeyRef describes the referenced table and column set.
type ForeignKeyRef struct {
	Table   string
	Columns []string
}

// ValueKind identifies the literal kind stored in a Value.
type ValueKind int

const (
	// ValueKindUnknown is used when the literal kind cannot be determined.
	ValueKindUnknown ValueKind = iota
	// ValueKindNumber represents numeric literals.
	ValueKindNumber
	// ValueKindString represents quoted string literals, stored unquoted.
	ValueKindString
	// ValueKindKeyword represents keywords used as defaults (e.g. CURRENT_TIMESTAMP).
	ValueKindKeyword
	// ValueKindNull marks a nullable attribute.
	ValueKindNull
)

// Value stores a literal used in DEFAULT clauses.
type Value struct {
	Kind ValueKind
	Text string
}

// SortColumns provides deterministic ordering of columns by name.
func SortColumns(cols []*Column) {
	slices.SortFunc(cols, func(a, b *Column) int {
		return cmp.Compare(a.Name, b.Name)
	})
}

// SortForeignKeys orders foreign keys by referenced table then columns.
func SortForeignKeys(keys []*ForeignKey) {
	slices.SortFunc(keys, func(a, b *ForeignKey) int {
		if c := cmp.Compare(a.Ref.Table, b.Ref.Table); c != 0 {
			return c
		}
		return cmp.Compare(joinColumns(a.Columns), joinColumns(b.Columns))
	})
}

func joinColumns(cols []string) string {
	return strings.Join(cols, "\x00")
}
