// Package codegen renders Go row types for declared tables.
package codegen

import (
	"context"
	"errors"
	"fmt"
	goast "go/ast"
	"go/parser"
	"go/token"
	"slices"
	"strconv"
	"strings"

	"github.com/electwix/relkit/internal/codegen/render"
	"github.com/electwix/relkit/internal/schema/model"
)

// Header marks generated files.
const Header = "// Code generated by relkit. DO NOT EDIT.\n\n"

// Options configures the generator.
type Options struct {
	// Package is the generated package name; defaults to "models".
	Package string
	// FileName defaults to "models.gen.go".
	FileName     string
	EmitJSONTags bool
}

// Generator builds Go source for a set of tables.
type Generator struct {
	opts Options
}

// New returns a generator configured with opts.
func New(opts Options) *Generator {
	if opts.Package == "" {
		opts.Package = "models"
	}
	if opts.FileName == "" {
		opts.FileName = "models.gen.go"
	}
	return &Generator{opts: opts}
}

type rowType struct {
	table    *model.Table
	typeName string
	fields   []field
}

type field struct {
	column   string
	name     string
	goType   string
	primary  bool
	jsonOmit bool
}

// Generate returns one formatted file holding a struct per table with a
// TableName and a Key method.
func (g *Generator) Generate(ctx context.Context, tables []*model.Table) ([]render.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, errors.New("codegen: no tables")
	}

	rows := make([]rowType, 0, len(tables))
	importSet := make(map[string]struct{})
	usedTypes := make(map[string]bool)
	for _, t := range tables {
		rt, imports, err := g.rowType(t, usedTypes)
		if err != nil {
			return nil, err
		}
		rows = append(rows, rt)
		for _, path := range imports {
			importSet[path] = struct{}{}
		}
	}

	node, err := g.buildFile(rows, importSet)
	if err != nil {
		return nil, err
	}
	files, err := render.Format([]render.Spec{{Path: g.opts.FileName, Node: node, Header: Header}})
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	return files, nil
}

func (g *Generator) rowType(t *model.Table, usedTypes map[string]bool) (rowType, []string, error) {
	class := t.Class
	if class == "" {
		class = t.Name
	}
	rt := rowType{
		table:    t,
		typeName: uniqueName(Identifier(strings.ReplaceAll(class, ".", "_")), usedTypes),
	}
	var imports []string
	usedFields := make(map[string]bool)
	for _, col := range t.Columns {
		expr, importPath := TypeOf(col)
		if importPath != "" {
			imports = append(imports, importPath)
		}
		rt.fields = append(rt.fields, field{
			column:   col.Name,
			name:     uniqueName(Identifier(col.Name), usedFields),
			goType:   expr,
			primary:  slices.Contains(t.PrimaryKeyColumns(), col.Name),
			jsonOmit: !col.NotNull,
		})
	}
	if len(rt.fields) == 0 {
		return rt, nil, fmt.Errorf("codegen: table %s has no columns", t.Name)
	}
	return rt, imports, nil
}

func (g *Generator) buildFile(rows []rowType, importSet map[string]struct{}) (*goast.File, error) {
	file := &goast.File{Name: goast.NewIdent(g.opts.Package)}

	if len(importSet) > 0 {
		paths := make([]string, 0, len(importSet))
		for path := range importSet {
			paths = append(paths, path)
		}
		slices.Sort(paths)
		specs := make([]goast.Spec, 0, len(paths))
		for _, path := range paths {
			specs = append(specs, &goast.ImportSpec{
				Path: &goast.BasicLit{Kind: token.STRING, Value: strconv.Quote(path)},
			})
		}
		file.Decls = append(file.Decls, &goast.GenDecl{Tok: token.IMPORT, Lparen: 1, Specs: specs})
	}

	for _, rt := range rows {
		decls, err := g.buildRowType(rt)
		if err != nil {
			return nil, err
		}
		file.Decls = append(file.Decls, decls...)
	}
	return file, nil
}

func (g *Generator) buildRowType(rt rowType) ([]goast.Decl, error) {
	fields := make([]*goast.Field, 0, len(rt.fields))
	var key []string
	for _, f := range rt.fields {
		expr, err := parser.ParseExpr(f.goType)
		if err != nil {
			return nil, fmt.Errorf("codegen: %s.%s: %w", rt.table.Name, f.column, err)
		}
		fields = append(fields, &goast.Field{
			Names: []*goast.Ident{goast.NewIdent(f.name)},
			Type:  expr,
			Tag:   &goast.BasicLit{Kind: token.STRING, Value: g.tag(f)},
		})
		if f.primary {
			key = append(key, fmt.Sprintf("%q: r.%s", f.column, f.name))
		}
	}
	typeDecl := &goast.GenDecl{
		Tok: token.TYPE,
		Specs: []goast.Spec{&goast.TypeSpec{
			Name: goast.NewIdent(rt.typeName),
			Type: &goast.StructType{Fields: &goast.FieldList{List: fields}},
		}},
	}

	keyExpr, err := parser.ParseExpr("map[string]any{" + strings.Join(key, ", ") + "}")
	if err != nil {
		return nil, fmt.Errorf("codegen: %s key: %w", rt.table.Name, err)
	}
	tableName := method(rt.typeName, "", "TableName", goast.NewIdent("string"),
		&goast.BasicLit{Kind: token.STRING, Value: strconv.Quote(rt.table.Name)})
	keyMethod := method(rt.typeName, "r", "Key", &goast.MapType{Key: goast.NewIdent("string"), Value: goast.NewIdent("any")}, keyExpr)

	return []goast.Decl{typeDecl, tableName, keyMethod}, nil
}

func (g *Generator) tag(f field) string {
	tag := fmt.Sprintf(`db:%q`, f.column)
	if g.opts.EmitJSONTags {
		opt := ""
		if f.jsonOmit {
			opt = ",omitempty"
		}
		tag += fmt.Sprintf(` json:"%s%s"`, f.column, opt)
	}
	return "`" + tag + "`"
}

// method builds a value receiver method with a single return statement.
func method(typeName, recv, name string, result, value goast.Expr) *goast.FuncDecl {
	var names []*goast.Ident
	if recv != "" {
		names = []*goast.Ident{goast.NewIdent(recv)}
	}
	return &goast.FuncDecl{
		Recv: &goast.FieldList{List: []*goast.Field{{Names: names, Type: goast.NewIdent(typeName)}}},
		Name: goast.NewIdent(name),
		Type: &goast.FuncType{
			Params:  &goast.FieldList{},
			Results: &goast.FieldList{List: []*goast.Field{{Type: result}}},
		},
		Body: &goast.BlockStmt{List: []goast.Stmt{
			&goast.ReturnStmt{Results: []goast.Expr{value}},
		}},
	}
}
