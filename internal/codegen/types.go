package codegen

import (
	"strings"

	"github.com/electwix/relkit/internal/schema/model"
)

// goType is a Go type expression and the import it needs.
type goType struct {
	expr       string
	importPath string
}

// TypeOf returns the Go type used for values of a column.
func TypeOf(col *model.Column) (expr, importPath string) {
	t := baseType(col.Type)
	if !col.NotNull && !strings.HasPrefix(t.expr, "[]") {
		t.expr = "*" + t.expr
	}
	return t.expr, t.importPath
}

func baseType(ct model.ColumnType) goType {
	switch strings.ToLower(ct.Name) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		if ct.Unsigned {
			return goType{expr: "uint64"}
		}
		return goType{expr: "int64"}
	case "bool", "boolean":
		return goType{expr: "bool"}
	case "float", "real":
		return goType{expr: "float32"}
	case "double":
		return goType{expr: "float64"}
	case "decimal", "numeric":
		return goType{expr: "decimal.Decimal", importPath: "github.com/shopspring/decimal"}
	case "date", "datetime", "timestamp":
		return goType{expr: "time.Time", importPath: "time"}
	case "uuid":
		return goType{expr: "uuid.UUID", importPath: "github.com/google/uuid"}
	case "blob", "tinyblob", "mediumblob", "longblob", "attach":
		return goType{expr: "[]byte"}
	default:
		// char, varchar, text, enum, filepath
		return goType{expr: "string"}
	}
}
