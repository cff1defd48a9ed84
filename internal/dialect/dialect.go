// Package dialect encapsulates the SQL differences between supported
// databases.
//
// Usage:
//
//	d, err := dialect.New("postgres")
//	if err != nil {
//	    return err
//	}
//	stmt := d.CreateTable(table)
package dialect

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/electwix/relkit/internal/schema/model"
)

// Dialect encapsulates database-specific SQL.
type Dialect interface {
	// Name returns the dialect identifier ("sqlite", "postgres").
	Name() string

	// DriverName returns the database/sql driver name to open connections with.
	DriverName() string

	// DefaultDriver returns the Go import path of the driver.
	DefaultDriver() string

	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string

	// InsertIgnore returns an INSERT statement that skips rows whose primary
	// key already exists.
	InsertIgnore(table string, columns []string) string

	// ColumnType maps a definition type to the dialect's column type.
	ColumnType(ct model.ColumnType) string

	// CreateTable returns a CREATE TABLE IF NOT EXISTS statement.
	CreateTable(table *model.Table) string

	// ConnectionPool returns recommended connection pool settings.
	ConnectionPool() ConnectionPoolConfig
}

// ConnectionPoolConfig defines recommended connection pool settings.
type ConnectionPoolConfig struct {
	// MaxOpenConns is the maximum number of open connections; 0 means no limit.
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections retained.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum time a connection may be reused; 0 means forever.
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum time a connection may sit idle; 0 means forever.
	ConnMaxIdleTime time.Duration
}

// Factory creates a Dialect instance.
type Factory func() Dialect

// registry is the global dialect registry instance.
var registry = &Registry{
	dialects: map[string]Factory{
		"sqlite":     func() Dialect { return sqlite{} },
		"postgres":   func() Dialect { return postgres{} },
		"postgresql": func() Dialect { return postgres{} },
	},
}

// Registry manages dialect factories.
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Factory
}

// Register adds a dialect factory. Panics if the name is already registered.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dialects[name]; exists {
		panic(fmt.Sprintf("dialect: %q already registered", name))
	}
	r.dialects[name] = factory
}

// New creates the named dialect.
func (r *Registry) New(name string) (Dialect, error) {
	r.mu.RLock()
	factory, exists := r.dialects[strings.ToLower(name)]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported database dialect: %s", name)
	}
	return factory(), nil
}

// List returns registered dialect names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dialects))
	for name := range r.dialects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register adds a dialect to the global registry.
func Register(name string, factory Factory) {
	registry.Register(name, factory)
}

// New creates a dialect from the global registry.
func New(name string) (Dialect, error) {
	return registry.New(name)
}

// List returns the dialects in the global registry.
func List() []string {
	return registry.List()
}

// Quote returns a double-quoted identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteAll quotes each identifier and joins them with ", ".
func QuoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// Rebind rewrites '?' placeholders in query into the dialect's style.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	inString := false
	for _, r := range query {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case r == '?' && !inString:
			n++
			b.WriteString(d.Placeholder(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// createTable renders a CREATE TABLE statement using columnType for types.
func createTable(table *model.Table, columnType func(model.ColumnType) string) string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "CREATE TABLE IF NOT EXISTS %s (\n", Quote(table.Name))

	for i, col := range table.Columns {
		if i > 0 {
			buf.WriteString(",\n")
		}
		buf.WriteString("    ")
		buf.WriteString(columnDef(col, columnType))
	}

	if table.PrimaryKey != nil && len(table.PrimaryKey.Columns) > 0 {
		buf.WriteString(",\n    PRIMARY KEY (")
		buf.WriteString(QuoteAll(table.PrimaryKey.Columns))
		buf.WriteString(")")
	}

	for _, fk := range table.ForeignKeys {
		buf.WriteString(",\n    FOREIGN KEY (")
		buf.WriteString(QuoteAll(fk.Columns))
		buf.WriteString(") REFERENCES ")
		buf.WriteString(Quote(fk.Ref.Table))
		if len(fk.Ref.Columns) > 0 {
			buf.WriteString(" (")
			buf.WriteString(QuoteAll(fk.Ref.Columns))
			buf.WriteString(")")
		}
	}

	buf.WriteString("\n);")
	return buf.String()
}

func columnDef(col *model.Column, columnType func(model.ColumnType) string) string {
	parts := []string{Quote(col.Name), columnType(col.Type)}
	if col.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		if v := defaultValue(col.Default); v != "" {
			parts = append(parts, "DEFAULT "+v)
		}
	}
	return strings.Join(parts, " ")
}

func defaultValue(v *model.Value) string {
	switch v.Kind {
	case model.ValueKindString:
		return "'" + strings.ReplaceAll(v.Text, "'", "''") + "'"
	case model.ValueKindKeyword:
		return strings.ToUpper(v.Text)
	case model.ValueKindNull:
		return ""
	default:
		return v.Text
	}
}
