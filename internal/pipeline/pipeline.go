// Package pipeline applies a relkit configuration to a database.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/electwix/relkit/internal/codegen"
	"github.com/electwix/relkit/internal/codegen/render"
	"github.com/electwix/relkit/internal/config"
	"github.com/electwix/relkit/internal/dialect"
	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/method"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
)

// Environment captures external dependencies used by the pipeline.
type Environment struct {
	Logger logging.Logger
	Writer Writer
	// Open connects to the database; relation.Open when nil.
	Open  func(ctx context.Context, dialectName, dsn string) (*relation.DB, error)
	Hooks Hooks
	// Methods binds funcs to configured method tables by class and name.
	Methods map[string]map[string]method.Func
}

// Writer writes generated files to persistent storage.
type Writer interface {
	WriteFile(path string, data []byte) error
}

// Pipeline orchestrates configuration loading, declaration and generation.
type Pipeline struct {
	Env Environment
}

// Summary captures what a run declared, filled and generated.
type Summary struct {
	Database string
	DDL      []string
	Warnings []string
	// Filled counts link rows inserted per link class.
	Filled map[string]int
	Files  []render.File
}

// RunOptions configures a pipeline execution.
type RunOptions struct {
	ConfigPath string
	// DryRun renders DDL and generated files without connecting or writing.
	DryRun bool
	// Fill inserts missing link keys after declaration.
	Fill         bool
	GenOut       string
	StrictConfig bool
}

// ErrNoDSN is returned when a run needs a database but none is configured.
var ErrNoDSN = errors.New("connection.dsn is required unless running with -dry-run")

// WriteError wraps failures encountered while writing generated files.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NewOSWriter returns a Writer that performs atomic writes on the local filesystem.
func NewOSWriter() Writer {
	return &osWriter{perm: 0o644}
}

type osWriter struct {
	perm fs.FileMode
}

func (w *osWriter) WriteFile(path string, data []byte) error {
	if path == "" {
		return errors.New("pipeline: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".relkit-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
		_ = tmp.Close()
	}()
	if w.perm != 0 {
		if err := tmp.Chmod(w.perm); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}

// Run executes the pipeline according to the provided options.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (summary Summary, err error) {
	logger := logging.OrNop(p.Env.Logger)
	hooks := p.Env.Hooks
	if hooks.AfterRun != nil {
		defer func() {
			if hookErr := hooks.AfterRun(ctx, summary); hookErr != nil && err == nil {
				err = hookErr
			}
		}()
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultPath
	}
	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return summary, fmt.Errorf("resolve config path: %w", err)
	}

	loadResult, err := config.Load(absConfigPath, config.LoadOptions{Strict: opts.StrictConfig})
	if err != nil {
		return summary, err
	}
	for _, warning := range loadResult.Warnings {
		logger.Warn(warning)
	}
	summary.Warnings = loadResult.Warnings
	plan := loadResult.Plan
	summary.Database = plan.Database

	if hooks.BeforeDeclare != nil {
		if err := hooks.BeforeDeclare(ctx, plan); err != nil {
			return summary, err
		}
	}

	d, err := dialect.New(plan.Dialect)
	if err != nil {
		return summary, err
	}
	var db *relation.DB
	if !opts.DryRun {
		if plan.DSN == "" {
			return summary, ErrNoDSN
		}
		open := p.Env.Open
		if open == nil {
			open = relation.Open
		}
		db, err = open(ctx, plan.Dialect, plan.DSN)
		if err != nil {
			return summary, err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
	}

	s, err := schema.New(schema.Options{Database: plan.Database, DB: db, Dialect: d, Logger: logger})
	if err != nil {
		return summary, err
	}
	declared, err := Declare(ctx, s, plan, p.Env.Methods)
	summary.DDL = s.DDL()
	if err != nil {
		return summary, err
	}
	logger.Info("schema declared", "database", plan.Database, "tables", len(summary.DDL))

	if hooks.AfterDeclare != nil {
		if err := hooks.AfterDeclare(ctx, declared); err != nil {
			return summary, err
		}
	}

	if opts.Fill && !opts.DryRun {
		summary.Filled, err = declared.FillLinks(ctx)
		if err != nil {
			return summary, err
		}
	}

	files, err := p.generate(ctx, s, plan, opts, filepath.Dir(absConfigPath))
	if err != nil {
		return summary, err
	}
	summary.Files = files
	if len(files) == 0 || opts.DryRun {
		return summary, nil
	}

	writer := p.Env.Writer
	if writer == nil {
		writer = NewOSWriter()
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		same, cmpErr := fileMatches(file.Path, file.Content)
		if cmpErr != nil {
			return summary, &WriteError{Path: file.Path, Err: cmpErr}
		}
		if same {
			logger.Debug("generated file unchanged", "path", file.Path)
			continue
		}
		if err := writer.WriteFile(file.Path, file.Content); err != nil {
			return summary, &WriteError{Path: file.Path, Err: err}
		}
		logger.Info("generated file written", "path", file.Path)
	}
	return summary, nil
}

// generate renders row types when the config or GenOut asks for them.
func (p *Pipeline) generate(ctx context.Context, s *schema.Schema, plan config.Plan, opts RunOptions, baseDir string) ([]render.File, error) {
	gen := plan.Generate
	if opts.GenOut != "" {
		out := opts.GenOut
		if !filepath.IsAbs(out) {
			out = filepath.Join(baseDir, out)
		}
		override := config.GeneratePlan{Package: "models", Out: filepath.Clean(out)}
		if gen != nil {
			override.Package = gen.Package
			override.EmitJSONTags = gen.EmitJSONTags
		}
		gen = &override
	}
	if gen == nil || len(s.Tables()) == 0 {
		return nil, nil
	}

	generated, err := codegen.New(codegen.Options{
		Package:      gen.Package,
		EmitJSONTags: gen.EmitJSONTags,
	}).Generate(ctx, s.Tables())
	if err != nil {
		return nil, err
	}
	files := make([]render.File, len(generated))
	for i, f := range generated {
		files[i] = render.File{Path: filepath.Join(gen.Out, f.Path), Content: f.Content}
	}
	if p.Env.Hooks.AfterGenerate != nil {
		if err := p.Env.Hooks.AfterGenerate(ctx, files); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func fileMatches(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(existing, content), nil
}
