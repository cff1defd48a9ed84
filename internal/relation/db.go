// Package relation provides relational expressions over tables declared in a
// catalog and executed through database/sql.
//
// A Query is immutable: Restrict, Proj, Join and friends return new
// queries. Nothing touches the database until Count, Fetch, Insert or Delete
// is called.
package relation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	// Drivers for the built-in dialects.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/electwix/relkit/internal/dialect"
	"github.com/electwix/relkit/internal/schema/model"
)

// DB binds a connection pool to a dialect and a catalog of table headings.
type DB struct {
	sql     *sql.DB
	dialect dialect.Dialect

	mu      sync.RWMutex
	catalog *model.Catalog
}

// New wraps an open connection pool.
func New(db *sql.DB, d dialect.Dialect) *DB {
	return &DB{sql: db, dialect: d, catalog: model.NewCatalog()}
}

// Open connects to dsn using the named dialect and applies the dialect's
// connection pool settings.
func Open(ctx context.Context, dialectName, dsn string) (*DB, error) {
	d, err := dialect.New(dialectName)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}

	pool := d.ConnectionPool()
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}
	return New(conn, d), nil
}

// Close closes the underlying pool.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Dialect returns the SQL dialect.
func (db *DB) Dialect() dialect.Dialect {
	return db.dialect
}

// Register adds a table heading to the catalog.
func (db *DB) Register(t *model.Table) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.catalog.Add(t)
}

// Lookup returns a registered table heading.
func (db *DB) Lookup(name string) (*model.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.catalog.Get(name)
}

// Tables returns the registered headings in registration order.
func (db *DB) Tables() []*model.Table {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.catalog.Ordered()
}

// Exec runs a statement written with '?' placeholders.
func (db *DB) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	return db.sql.ExecContext(ctx, dialect.Rebind(db.dialect, stmt), args...)
}

// Table returns a query over the named registered table.
func (db *DB) Table(name string) (*Query, error) {
	t, ok := db.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("table %q is not declared", name)
	}
	return tableQuery(db, t), nil
}

// MustTable is Table for names known to be registered.
func (db *DB) MustTable(name string) *Query {
	q, err := db.Table(name)
	if err != nil {
		panic(err)
	}
	return q
}

func (db *DB) query(ctx context.Context, stmt string, args []any) (*sql.Rows, error) {
	return db.sql.QueryContext(ctx, dialect.Rebind(db.dialect, stmt), args...)
}
