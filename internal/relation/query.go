package relation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/electwix/relkit/internal/dialect"
	"github.com/electwix/relkit/internal/schema/model"
)

// Query is an immutable relational expression.
type Query struct {
	db   *DB
	name string
	// base is the underlying table for queries that only restrict it;
	// Insert and Delete require it.
	base string

	source     string
	sourceArgs []any
	distinct   bool

	columns []string
	primary []string
	types   map[string]model.ColumnType

	where []clause
}

type clause struct {
	sql  string
	args []any
}

func tableQuery(db *DB, t *model.Table) *Query {
	types := make(map[string]model.ColumnType, len(t.Columns))
	for _, col := range t.Columns {
		types[col.Name] = col.Type
	}
	return &Query{
		db:      db,
		name:    t.Name,
		base:    t.Name,
		source:  dialect.Quote(t.Name),
		columns: t.ColumnNames(),
		primary: t.PrimaryKeyColumns(),
		types:   types,
	}
}

// Name identifies the relation: the table name for restricted tables.
func (q *Query) Name() string { return q.name }

// Table returns the base table for restricted tables, or "".
func (q *Query) Table() string { return q.base }

// Columns returns the heading's attribute names.
func (q *Query) Columns() []string { return slices.Clone(q.columns) }

// PrimaryKey returns the heading's primary key attributes.
func (q *Query) PrimaryKey() []string { return slices.Clone(q.primary) }

// DB returns the database the query runs against.
func (q *Query) DB() *DB { return q.db }

// Has reports whether attr is in the heading.
func (q *Query) Has(attr string) bool { return slices.Contains(q.columns, attr) }

func (q *Query) clone() *Query {
	c := *q
	c.where = slices.Clone(q.where)
	return &c
}

func (q *Query) with(cl clause) *Query {
	c := q.clone()
	c.where = append(c.where, cl)
	return c
}

// Restrict keeps tuples matching every attribute of cond. Attributes outside
// the heading are ignored.
func (q *Query) Restrict(cond Tuple) *Query {
	sqlText, args := q.match(cond)
	if sqlText == "" {
		return q
	}
	return q.with(clause{sql: sqlText, args: args})
}

// RestrictAny keeps tuples matching at least one of conds. An empty list
// selects nothing.
func (q *Query) RestrictAny(conds []Tuple) *Query {
	if len(conds) == 0 {
		return q.with(clause{sql: "1 = 0"})
	}
	parts := make([]string, 0, len(conds))
	var args []any
	for _, cond := range conds {
		sqlText, condArgs := q.match(cond)
		if sqlText == "" {
			return q
		}
		parts = append(parts, "("+sqlText+")")
		args = append(args, condArgs...)
	}
	return q.with(clause{sql: strings.Join(parts, " OR "), args: args})
}

// Where adds a raw SQL condition written with '?' placeholders.
func (q *Query) Where(cond string, args ...any) *Query {
	return q.with(clause{sql: cond, args: args})
}

func (q *Query) match(cond Tuple) (string, []any) {
	var parts []string
	var args []any
	for _, name := range cond.Names() {
		if !q.Has(name) {
			continue
		}
		col := "t." + dialect.Quote(name)
		if v := cond[name]; v == nil {
			parts = append(parts, col+" IS NULL")
		} else {
			parts = append(parts, col+" = ?")
			args = append(args, v)
		}
	}
	return strings.Join(parts, " AND "), args
}

// RestrictBy keeps tuples that match some tuple of other on their common
// attributes (semijoin).
func (q *Query) RestrictBy(other *Query) *Query {
	return q.with(q.exists(other, false))
}

// Minus keeps tuples that match no tuple of other on their common attributes
// (antijoin).
func (q *Query) Minus(other *Query) *Query {
	return q.with(q.exists(other, true))
}

func (q *Query) exists(other *Query, negate bool) clause {
	inner, args := other.build(other.columns, false)
	var on []string
	for _, col := range q.columns {
		if other.Has(col) {
			quoted := dialect.Quote(col)
			on = append(on, "m."+quoted+" = t."+quoted)
		}
	}
	var b strings.Builder
	if negate {
		b.WriteString("NOT ")
	}
	b.WriteString("EXISTS (SELECT 1 FROM (")
	b.WriteString(inner)
	b.WriteString(") AS m")
	if len(on) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(on, " AND "))
	}
	b.WriteString(")")
	return clause{sql: b.String(), args: args}
}

// Proj projects onto the primary key plus attrs. Unknown attributes are
// ignored.
func (q *Query) Proj(attrs ...string) *Query {
	cols := make([]string, 0, len(q.primary)+len(attrs))
	for _, col := range q.columns {
		if slices.Contains(q.primary, col) || slices.Contains(attrs, col) {
			cols = append(cols, col)
		}
	}
	inner, args := q.build(cols, false)
	return &Query{
		db:         q.db,
		name:       q.name,
		source:     "(" + inner + ")",
		sourceArgs: args,
		distinct:   true,
		columns:    cols,
		primary:    slices.Clone(q.primary),
		types:      q.types,
	}
}

// Join returns the natural join of q and other. The primary key is the union
// of both primary keys.
func (q *Query) Join(other *Query) *Query {
	left, leftArgs := q.build(q.columns, false)
	right, rightArgs := other.build(other.columns, false)

	cols := slices.Clone(q.columns)
	types := make(map[string]model.ColumnType, len(q.types)+len(other.types))
	for k, v := range q.types {
		types[k] = v
	}
	for _, col := range other.columns {
		if !slices.Contains(cols, col) {
			cols = append(cols, col)
			types[col] = other.types[col]
		}
	}
	primary := slices.Clone(q.primary)
	for _, col := range other.primary {
		if !slices.Contains(primary, col) {
			primary = append(primary, col)
		}
	}

	return &Query{
		db:         q.db,
		name:       q.name + "*" + other.name,
		source:     "(SELECT * FROM (" + left + ") AS l NATURAL JOIN (" + right + ") AS r)",
		sourceArgs: append(slices.Clone(leftArgs), rightArgs...),
		distinct:   true,
		columns:    cols,
		primary:    primary,
		types:      types,
	}
}

// Rename returns q under another relation name.
func (q *Query) Rename(name string) *Query {
	c := q.clone()
	c.name = name
	return c
}

func (q *Query) build(cols []string, ordered bool) (string, []any) {
	var b strings.Builder
	args := slices.Clone(q.sourceArgs)

	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(qualify(cols))
	b.WriteString(" FROM ")
	b.WriteString(q.source)
	b.WriteString(" AS t")

	for i, cl := range q.where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString("(" + cl.sql + ")")
		args = append(args, cl.args...)
	}

	if ordered && len(q.primary) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(qualify(q.primary))
	}
	return b.String(), args
}

func qualify(cols []string) string {
	if len(cols) == 0 {
		return "1"
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "t." + dialect.Quote(c)
	}
	return strings.Join(out, ", ")
}

// SQL returns the SELECT statement and its arguments.
func (q *Query) SQL() (string, []any) {
	return q.build(q.columns, true)
}

func (q *Query) String() string {
	s, _ := q.SQL()
	return s
}

// Count returns the number of tuples.
func (q *Query) Count(ctx context.Context) (int, error) {
	inner, args := q.build(q.columns, false)
	rows, err := q.db.query(ctx, "SELECT COUNT(*) FROM ("+inner+") AS c", args)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.name, err)
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", q.name, err)
		}
	}
	return n, rows.Err()
}

// Exists reports whether the query holds any tuple.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

// Fetch returns all tuples ordered by primary key.
func (q *Query) Fetch(ctx context.Context) ([]Tuple, error) {
	stmt, args := q.build(q.columns, true)
	rows, err := q.db.query(ctx, stmt, args)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.name, err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		dest := make([]any, len(q.columns))
		for i, col := range q.columns {
			if isDecimal(q.types[col]) {
				dest[i] = new(decimal.NullDecimal)
			} else {
				dest[i] = new(any)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", q.name, err)
		}
		tuple := make(Tuple, len(q.columns))
		for i, col := range q.columns {
			switch v := dest[i].(type) {
			case *decimal.NullDecimal:
				if v.Valid {
					tuple[col] = v.Decimal
				} else {
					tuple[col] = nil
				}
			case *any:
				tuple[col] = *v
			}
		}
		out = append(out, tuple)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.name, err)
	}
	return out, nil
}

func isDecimal(ct model.ColumnType) bool {
	return ct.Name == "decimal" || ct.Name == "numeric"
}

// Fetch1 returns the only tuple, or a *RestrictionError.
func (q *Query) Fetch1(ctx context.Context) (Tuple, error) {
	tuples, err := q.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(tuples) != 1 {
		return nil, &RestrictionError{Relation: q.name, Count: len(tuples)}
	}
	return tuples[0], nil
}

// FetchKey returns the primary key of the only tuple.
func (q *Query) FetchKey(ctx context.Context) (Tuple, error) {
	return q.Proj().Fetch1(ctx)
}

// FetchKeys returns the primary keys of all tuples in order.
func (q *Query) FetchKeys(ctx context.Context) ([]Tuple, error) {
	return q.Proj().Fetch(ctx)
}

// FetchColumn returns attr for every tuple, ordered by primary key.
func (q *Query) FetchColumn(ctx context.Context, attr string) ([]any, error) {
	if !q.Has(attr) {
		return nil, fmt.Errorf("%s has no attribute %q", q.name, attr)
	}
	tuples, err := q.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(tuples))
	for i, t := range tuples {
		out[i] = t[attr]
	}
	return out, nil
}

// InsertOptions tunes Insert.
type InsertOptions struct {
	// SkipDuplicates silently skips rows whose primary key exists.
	SkipDuplicates bool
	// IgnoreExtra drops attributes outside the heading instead of failing.
	IgnoreExtra bool
}

// Insert writes rows into the base table inside one transaction. Attributes
// missing from a row take their column default.
func (q *Query) Insert(ctx context.Context, rows []Tuple, opts InsertOptions) error {
	if q.base == "" {
		return fmt.Errorf("insert into %s: not a base table", q.name)
	}
	if len(rows) == 0 {
		return nil
	}
	return q.db.InsertBatches(ctx, []Batch{{Into: q, Rows: rows}}, opts)
}

// Batch pairs rows with the base table they are inserted into.
type Batch struct {
	Into *Query
	Rows []Tuple
}

// InsertBatches writes the batches in order inside one transaction: either
// every row is stored or none is.
func (db *DB) InsertBatches(ctx context.Context, batches []Batch, opts InsertOptions) error {
	for _, b := range batches {
		if b.Into == nil || b.Into.db != db {
			return errors.New("insert: batch targets another database")
		}
		if b.Into.base == "" {
			return fmt.Errorf("insert into %s: not a base table", b.Into.name)
		}
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range batches {
		if err := b.Into.insertTx(ctx, tx, b.Rows, opts); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (q *Query) insertTx(ctx context.Context, tx *sql.Tx, rows []Tuple, opts InsertOptions) error {
	stmts := make(map[string]*sql.Stmt)
	defer func() {
		for _, s := range stmts {
			_ = s.Close()
		}
	}()

	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for _, name := range row.Names() {
			if q.Has(name) {
				cols = append(cols, name)
			} else if !opts.IgnoreExtra {
				return fmt.Errorf("insert into %s: unknown attribute %q", q.base, name)
			}
		}
		sig := strings.Join(cols, "\x00")
		stmt, ok := stmts[sig]
		if !ok {
			text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				dialect.Quote(q.base), dialect.QuoteAll(cols), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
			if opts.SkipDuplicates {
				text = q.db.dialect.InsertIgnore(q.base, cols)
			}
			var err error
			stmt, err = tx.PrepareContext(ctx, dialect.Rebind(q.db.dialect, text))
			if err != nil {
				return fmt.Errorf("insert into %s: %w", q.base, err)
			}
			stmts[sig] = stmt
		}
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", q.base, err)
		}
	}
	return nil
}

// Insert1 inserts a single row.
func (q *Query) Insert1(ctx context.Context, row Tuple, opts InsertOptions) error {
	return q.Insert(ctx, []Tuple{row}, opts)
}

// Delete removes the selected tuples from the base table and returns the
// number of rows removed.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if q.base == "" {
		return 0, fmt.Errorf("delete from %s: not a base table", q.name)
	}
	table := dialect.Quote(q.base)
	stmt := "DELETE FROM " + table
	var args []any
	if len(q.where) > 0 {
		inner, innerArgs := q.build(q.columns, false)
		key := q.primary
		if len(key) == 0 {
			key = q.columns
		}
		on := make([]string, len(key))
		for i, col := range key {
			quoted := dialect.Quote(col)
			on[i] = "d." + quoted + " = " + table + "." + quoted
		}
		stmt += " WHERE EXISTS (SELECT 1 FROM (" + inner + ") AS d WHERE " + strings.Join(on, " AND ") + ")"
		args = innerArgs
	}

	res, err := q.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", q.base, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", q.base, err)
	}
	return n, nil
}
