package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/relkit/internal/codegen/render"
	"github.com/electwix/relkit/internal/config"
	"github.com/electwix/relkit/internal/method"
	"github.com/electwix/relkit/internal/relation"
)

const labConfig = `
database = "lab"

[connection]
dsn = ":memory:"

[files.stores]
raw = "raw"

[[tables]]
class = "Subject"
definition = "subject_id : int"

[[tables]]
class = "Session"
definition = """
-> Subject
session : int
---
raw = null : filepath@raw
"""

[[links]]
class = "SourceLink"
name = "source"
links = ["Subject", "Session"]

[[sets]]
class = "SubjectSet"
name = "subjects"
keys = ["Subject"]

[[lists]]
class = "SourceList"
name = "sources"
link = "SourceLink"

[[methods]]
class = "Filter"
name = "filter"
methods = ["lowpass"]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relkit.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestPipelineDryRun(t *testing.T) {
	configPath := writeConfig(t, strings.Replace(labConfig, `dsn = ":memory:"`, "", 1))
	writer := &MemoryWriter{}
	opened := false

	p := Pipeline{Env: Environment{
		Writer: writer,
		Open: func(context.Context, string, string) (*relation.DB, error) {
			opened = true
			return nil, errors.New("unexpected open")
		},
	}}
	summary, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath, DryRun: true, Fill: true, GenOut: "models"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if opened {
		t.Fatal("dry-run opened the database")
	}
	if len(summary.DDL) != 12 {
		t.Fatalf("DDL = %d statements, want 12:\n%s", len(summary.DDL), strings.Join(summary.DDL, "\n"))
	}
	if !strings.Contains(summary.DDL[0], `CREATE TABLE IF NOT EXISTS "subject"`) {
		t.Fatalf("first statement = %q", summary.DDL[0])
	}
	if summary.Filled != nil {
		t.Fatalf("Filled = %v during dry-run, want nil", summary.Filled)
	}
	if len(summary.Files) != 1 || filepath.Base(summary.Files[0].Path) != "models.gen.go" {
		t.Fatalf("Files = %v, want models.gen.go", summary.Files)
	}
	if writer.Len() != 0 {
		t.Fatalf("writer invoked %d times during dry-run, want 0", writer.Len())
	}
}

func TestPipelineRun(t *testing.T) {
	configPath := writeConfig(t, labConfig)
	writer := &MemoryWriter{}

	var calls []string
	hooks := Hooks{
		BeforeDeclare: func(_ context.Context, plan config.Plan) error {
			calls = append(calls, "before:"+plan.Database)
			return nil
		},
		AfterDeclare: func(ctx context.Context, d *Declared) error {
			calls = append(calls, "declare")
			subject, err := d.Schema.Table("Subject")
			if err != nil {
				return err
			}
			return subject.Insert(ctx, []relation.Tuple{{"subject_id": 1}, {"subject_id": 2}}, relation.InsertOptions{})
		},
		AfterGenerate: func(_ context.Context, files []render.File) error {
			calls = append(calls, "generate")
			return nil
		},
		AfterRun: func(_ context.Context, s Summary) error {
			calls = append(calls, "run")
			return nil
		},
	}

	p := Pipeline{Env: Environment{Writer: writer, Hooks: hooks}}
	summary, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath, Fill: true, GenOut: "models"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"before:lab", "declare", "generate", "run"}, calls); diff != "" {
		t.Fatalf("hook calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"SourceLink": 2}, summary.Filled); diff != "" {
		t.Fatalf("Filled mismatch (-want +got):\n%s", diff)
	}

	want := filepath.Join(filepath.Dir(configPath), "models", "models.gen.go")
	content, ok := writer.File(want)
	if !ok {
		t.Fatalf("generated file %s not written", want)
	}
	if !strings.Contains(string(content), "type SourceLinkSession struct") {
		t.Fatalf("generated file lacks link part type:\n%s", content)
	}
}

func TestPipelineSkipsUnchangedFiles(t *testing.T) {
	configPath := writeConfig(t, labConfig)
	p := Pipeline{}
	if _, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath, GenOut: "models"}); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	path := filepath.Join(filepath.Dir(configPath), "models", "models.gen.go")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("generated file missing: %v", err)
	}

	writer := &MemoryWriter{}
	p.Env.Writer = writer
	if _, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath, GenOut: "models"}); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if writer.Len() != 0 {
		t.Fatalf("unchanged file rewritten")
	}
}

type failingWriter struct{}

func (failingWriter) WriteFile(string, []byte) error { return errors.New("disk full") }

func TestPipelineWriteError(t *testing.T) {
	configPath := writeConfig(t, labConfig)
	p := Pipeline{Env: Environment{Writer: failingWriter{}}}
	_, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath, GenOut: "models"})
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Run error = %v, want WriteError", err)
	}
}

func TestPipelineErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		opts    RunOptions
		wantErr string
	}{
		{
			name:    "missing dsn",
			config:  "database = \"lab\"",
			wantErr: "connection.dsn is required",
		},
		{
			name:    "strict config",
			config:  "database = \"lab\"\nextra = 1",
			opts:    RunOptions{DryRun: true, StrictConfig: true},
			wantErr: "unknown configuration keys",
		},
		{
			name:    "unconfigured store",
			config:  "database = \"lab\"\n[[tables]]\nclass = \"Scan\"\ndefinition = \"scan_id : int\\n---\\nraw : filepath@raw\"",
			opts:    RunOptions{DryRun: true},
			wantErr: `store "raw" is not configured`,
		},
		{
			name:    "bad reference",
			config:  "database = \"lab\"\n[[tables]]\nclass = \"Scan\"\ndefinition = \"-> Missing\\nscan_id : int\"",
			opts:    RunOptions{DryRun: true},
			wantErr: `unknown class "Missing"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.ConfigPath = writeConfig(t, tt.config)
			_, err := (&Pipeline{}).Run(context.Background(), opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Run error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestPipelineBindsMethods(t *testing.T) {
	configPath := writeConfig(t, labConfig)
	lowpass := func(context.Context, *relation.Query) (any, error) { return "ok", nil }

	var got any
	p := Pipeline{Env: Environment{
		Methods: map[string]map[string]method.Func{"Filter": {"lowpass": lowpass}},
		Hooks: Hooks{AfterDeclare: func(ctx context.Context, d *Declared) error {
			tbl := d.Methods["Filter"]
			q, err := tbl.Query()
			if err != nil {
				return err
			}
			got, err = tbl.Call(ctx, q, "lowpass")
			return err
		}},
	}}
	if _, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("Call = %v, want ok", got)
	}

	p.Env.Methods = map[string]map[string]method.Func{"Filter": {"bandpass": lowpass}}
	p.Env.Hooks = Hooks{}
	if _, err := p.Run(context.Background(), RunOptions{ConfigPath: configPath}); err == nil {
		t.Fatal("Run expected error for an undeclared method")
	}
}
