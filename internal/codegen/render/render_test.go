package render

import (
	"strings"
	"testing"

	goast "go/ast"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name    string
		specs   []Spec
		wantErr bool
	}{
		{
			name:  "raw passthrough",
			specs: []Spec{{Path: "raw.go", Raw: []byte("package main\n\nfunc main() {}")}},
		},
		{
			name: "multiple files",
			specs: []Spec{
				{Path: "a.go", Raw: []byte("package main")},
				{Path: "b.go", Node: &goast.File{Name: goast.NewIdent("main")}},
			},
		},
		{
			name:  "with AST node",
			specs: []Spec{{Path: "ast.go", Node: &goast.File{Name: goast.NewIdent("test")}}},
		},
		{
			name:    "nil node and raw",
			specs:   []Spec{{Path: "empty.go"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Errorf("Format() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(got) != len(tt.specs) {
				t.Errorf("Format() returned %d files, want %d", len(got), len(tt.specs))
			}
		})
	}
}

func TestFormatHeader(t *testing.T) {
	got, err := Format([]Spec{{
		Path:   "models.gen.go",
		Node:   &goast.File{Name: goast.NewIdent("models")},
		Header: "// Code generated. DO NOT EDIT.\n\n",
	}})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	content := string(got[0].Content)
	if !strings.HasPrefix(content, "// Code generated. DO NOT EDIT.\n\npackage models\n") {
		t.Errorf("Format() = %q", content)
	}
}

func TestFormatRawIsCopied(t *testing.T) {
	raw := []byte("package main")
	got, err := Format([]Spec{{Path: "a.go", Raw: raw}})
	if err != nil {
		t.Fatal(err)
	}
	raw[0] = 'X'
	if string(got[0].Content) != "package main" {
		t.Errorf("Content = %q, want an independent copy", got[0].Content)
	}
}
