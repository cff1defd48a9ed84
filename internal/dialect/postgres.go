package dialect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/electwix/relkit/internal/schema/model"
)

const (
	postgresMaxOpenConns    = 25
	postgresMaxIdleConns    = 5
	postgresConnMaxLifetime = time.Hour
	postgresConnMaxIdleTime = 30 * time.Minute
)

type postgres struct{}

func (postgres) Name() string { return "postgres" }

// DriverName is the name registered by github.com/jackc/pgx/v5/stdlib.
func (postgres) DriverName() string { return "pgx" }

func (postgres) DefaultDriver() string { return "github.com/jackc/pgx/v5/stdlib" }

func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (d postgres) InsertIgnore(table string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		Quote(table), QuoteAll(columns), placeholders(d, len(columns)))
}

func (postgres) ColumnType(ct model.ColumnType) string {
	args := ""
	if len(ct.Args) > 0 {
		args = "(" + strings.Join(ct.Args, ",") + ")"
	}
	switch ct.Name {
	case "tinyint", "smallint":
		if ct.Unsigned {
			return "INTEGER"
		}
		return "SMALLINT"
	case "mediumint", "int", "integer":
		if ct.Unsigned {
			return "BIGINT"
		}
		return "INTEGER"
	case "bigint":
		if ct.Unsigned {
			return "NUMERIC(20)"
		}
		return "BIGINT"
	case "bool", "boolean":
		return "BOOLEAN"
	case "float", "real":
		return "REAL"
	case "double":
		return "DOUBLE PRECISION"
	case "decimal", "numeric":
		return "NUMERIC" + args
	case "char":
		return "CHAR" + args
	case "varchar":
		return "VARCHAR" + args
	case "blob", "tinyblob", "mediumblob", "longblob", "attach":
		return "BYTEA"
	case "date":
		return "DATE"
	case "datetime", "timestamp":
		return "TIMESTAMP"
	case "json":
		return "JSONB"
	case "uuid":
		return "UUID"
	default:
		return "TEXT"
	}
}

func (d postgres) CreateTable(table *model.Table) string {
	return createTable(table, d.ColumnType)
}

func (postgres) ConnectionPool() ConnectionPoolConfig {
	return ConnectionPoolConfig{
		MaxOpenConns:    postgresMaxOpenConns,
		MaxIdleConns:    postgresMaxIdleConns,
		ConnMaxLifetime: postgresConnMaxLifetime,
		ConnMaxIdleTime: postgresConnMaxIdleTime,
	}
}
