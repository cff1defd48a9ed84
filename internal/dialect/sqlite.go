package dialect

import (
	"fmt"

	"github.com/electwix/relkit/internal/schema/model"
)

// An in-memory SQLite database lives and dies with its connection, so the
// pool keeps exactly one connection open forever.
const (
	sqliteMaxOpenConns = 1
	sqliteMaxIdleConns = 1
)

type sqlite struct{}

func (sqlite) Name() string { return "sqlite" }

func (sqlite) DriverName() string { return "sqlite" }

func (sqlite) DefaultDriver() string { return "modernc.org/sqlite" }

func (sqlite) Placeholder(int) string { return "?" }

func (sqlite) InsertIgnore(table string, columns []string) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		Quote(table), QuoteAll(columns), placeholders(sqlite{}, len(columns)))
}

// ColumnType keeps the declared date and time names so the driver decodes
// them as time.Time.
func (sqlite) ColumnType(ct model.ColumnType) string {
	switch ct.Name {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "bool", "boolean":
		return "INTEGER"
	case "float", "double", "real":
		return "REAL"
	case "decimal", "numeric":
		return "NUMERIC"
	case "blob", "tinyblob", "mediumblob", "longblob", "attach":
		return "BLOB"
	case "date":
		return "DATE"
	case "datetime":
		return "DATETIME"
	case "timestamp":
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (d sqlite) CreateTable(table *model.Table) string {
	return createTable(table, d.ColumnType)
}

func (sqlite) ConnectionPool() ConnectionPoolConfig {
	return ConnectionPoolConfig{
		MaxOpenConns: sqliteMaxOpenConns,
		MaxIdleConns: sqliteMaxIdleConns,
	}
}

func placeholders(d Dialect, n int) string {
	var out string
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += d.Placeholder(i)
	}
	return out
}
