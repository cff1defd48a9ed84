// Package render prints generated Go files and runs goimports over them.
package render

import (
	"bytes"
	"fmt"
	goast "go/ast"
	"go/printer"
	"go/token"

	"golang.org/x/tools/imports"
)

// Spec describes a file to render. Raw content is passed through unchanged.
type Spec struct {
	Path string
	Node *goast.File
	Raw  []byte
	// Header is written above the package clause.
	Header string
}

// File contains the rendered Go source for a path.
type File struct {
	Path    string
	Content []byte
}

// Format renders all specs using go/printer and goimports.
func Format(specs []Spec) ([]File, error) {
	rendered := make([]File, 0, len(specs))
	for _, spec := range specs {
		if len(spec.Raw) > 0 {
			rendered = append(rendered, File{Path: spec.Path, Content: bytes.Clone(spec.Raw)})
			continue
		}
		if spec.Node == nil {
			return nil, fmt.Errorf("render %s: nil AST node", spec.Path)
		}
		var buf bytes.Buffer
		buf.WriteString(spec.Header)
		cfg := &printer.Config{Mode: printer.TabIndent | printer.UseSpaces, Tabwidth: 8}
		if err := cfg.Fprint(&buf, token.NewFileSet(), spec.Node); err != nil {
			return nil, fmt.Errorf("render %s: %w", spec.Path, err)
		}
		formatted, err := imports.Process(spec.Path, buf.Bytes(), &imports.Options{Comments: true, TabIndent: true, TabWidth: 8})
		if err != nil {
			return nil, fmt.Errorf("goimports %s: %w", spec.Path, err)
		}
		rendered = append(rendered, File{Path: spec.Path, Content: formatted})
	}
	return rendered, nil
}
