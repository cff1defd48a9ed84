// Package config loads and validates the relkit configuration.
package config

import (
	"errors"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/electwix/relkit/internal/dialect"
	"github.com/electwix/relkit/internal/fileset"
	"github.com/electwix/relkit/internal/filestore"
	"github.com/electwix/relkit/internal/group"
	"github.com/electwix/relkit/internal/link"
	"github.com/electwix/relkit/internal/method"
	"github.com/electwix/relkit/internal/schema"
	"github.com/electwix/relkit/internal/schema/model"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "relkit.toml"

// ConnectionConfig selects the database.
type ConnectionConfig struct {
	Dialect string `toml:"dialect" yaml:"dialect"`
	DSN     string `toml:"dsn" yaml:"dsn"`
}

// CacheConfig bounds row cache scopes opened by relkit.
type CacheConfig struct {
	MaxSize int `toml:"max_size" yaml:"max_size"`
}

// FilesConfig configures file stores.
type FilesConfig struct {
	ChecksumCache int               `toml:"checksum_cache" yaml:"checksum_cache"`
	Stores        map[string]string `toml:"stores" yaml:"stores"`
}

// GenerateConfig enables Go row type generation.
type GenerateConfig struct {
	Package      string `toml:"package" yaml:"package"`
	Out          string `toml:"out" yaml:"out"`
	EmitJSONTags bool   `toml:"emit_json_tags" yaml:"emit_json_tags"`
}

// TableConfig declares one table, inline or from a definition file.
type TableConfig struct {
	Class      string           `toml:"class" yaml:"class"`
	Tier       string           `toml:"tier" yaml:"tier"`
	Definition string           `toml:"definition" yaml:"definition"`
	File       string           `toml:"file" yaml:"file"`
	Contents   []map[string]any `toml:"contents" yaml:"contents"`
}

// LinkConfig declares a link.
type LinkConfig struct {
	Class   string   `toml:"class" yaml:"class"`
	Name    string   `toml:"name" yaml:"name"`
	Comment string   `toml:"comment" yaml:"comment"`
	Length  int      `toml:"length" yaml:"length"`
	Links   []string `toml:"links" yaml:"links"`
}

// GroupConfig declares a set or a list. Link names a configured link whose
// master is the key source; it excludes Keys.
type GroupConfig struct {
	Class   string   `toml:"class" yaml:"class"`
	Name    string   `toml:"name" yaml:"name"`
	Comment string   `toml:"comment" yaml:"comment"`
	Length  int      `toml:"length" yaml:"length"`
	Keys    []string `toml:"keys" yaml:"keys"`
	Link    string   `toml:"link" yaml:"link"`
}

// MethodConfig declares a method table.
type MethodConfig struct {
	Class   string   `toml:"class" yaml:"class"`
	Name    string   `toml:"name" yaml:"name"`
	Comment string   `toml:"comment" yaml:"comment"`
	Methods []string `toml:"methods" yaml:"methods"`
}

// Config mirrors the relkit configuration file.
type Config struct {
	Database   string           `toml:"database" yaml:"database"`
	Connection ConnectionConfig `toml:"connection" yaml:"connection"`
	Cache      CacheConfig      `toml:"cache" yaml:"cache"`
	Files      FilesConfig      `toml:"files" yaml:"files"`
	Generate   *GenerateConfig  `toml:"generate" yaml:"generate"`
	Tables     []TableConfig    `toml:"tables" yaml:"tables"`
	Links      []LinkConfig     `toml:"links" yaml:"links"`
	Sets       []GroupConfig    `toml:"sets" yaml:"sets"`
	Lists      []GroupConfig    `toml:"lists" yaml:"lists"`
	Methods    []MethodConfig   `toml:"methods" yaml:"methods"`
}

// GeneratePlan is the resolved generation target.
type GeneratePlan struct {
	Package      string
	Out          string
	EmitJSONTags bool
}

// GroupPlan is a resolved set or list. Link is empty for plain groups.
type GroupPlan struct {
	Spec group.Spec
	Link string
}

// Plan is the fully resolved configuration used by the pipeline. Sections
// are declared in the order tables, links, sets, lists, methods.
type Plan struct {
	Database     string
	Dialect      string
	DSN          string
	CacheMaxSize int
	Files        filestore.Options
	Generate     *GeneratePlan
	Tables       []schema.Declaration
	Links        []link.Spec
	Sets         []GroupPlan
	Lists        []GroupPlan
	Methods      []method.Spec
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	Strict bool
	// Resolver locates definition files; defaults to the config's directory.
	Resolver *fileset.Resolver
}

// Result wraps a loaded plan alongside any non-fatal warnings.
type Result struct {
	Plan     Plan
	Warnings []string
}

// Load reads, validates, and resolves a relkit configuration file. Files
// ending in .yaml or .yml are read as YAML, everything else as TOML.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	unmarshal := toml.Unmarshal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	var cfg Config
	if err := unmarshal(data, &cfg); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	var raw map[string]any
	if err := unmarshal(data, &raw); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if unknown := collectUnknownKeys(raw); len(unknown) > 0 {
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknown, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	baseDir := filepath.Dir(path)
	var resolver fileset.Resolver
	if opts.Resolver != nil {
		resolver = *opts.Resolver
	} else {
		resolver, err = fileset.NewOSResolver(baseDir)
		if err != nil {
			return res, fmt.Errorf("%s: %w", path, err)
		}
	}

	plan, err := resolve(cfg, baseDir, resolver)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	res.Plan = plan
	return res, nil
}

var databasePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func resolve(cfg Config, baseDir string, resolver fileset.Resolver) (Plan, error) {
	var plan Plan

	if cfg.Database == "" {
		return plan, errors.New("database is required")
	}
	if !databasePattern.MatchString(cfg.Database) {
		return plan, fmt.Errorf("invalid database name %q", cfg.Database)
	}
	plan.Database = cfg.Database

	plan.Dialect = strings.ToLower(cfg.Connection.Dialect)
	if plan.Dialect == "" {
		plan.Dialect = "sqlite"
	}
	if _, err := dialect.New(plan.Dialect); err != nil {
		return plan, fmt.Errorf("connection: %w", err)
	}
	plan.DSN = resolveDSN(plan.Dialect, cfg.Connection.DSN, baseDir)

	if cfg.Cache.MaxSize < 0 {
		return plan, errors.New("cache.max_size must not be negative")
	}
	plan.CacheMaxSize = cfg.Cache.MaxSize

	files, err := resolveFiles(cfg.Files, baseDir)
	if err != nil {
		return plan, err
	}
	plan.Files = files

	if cfg.Generate != nil {
		gen, err := resolveGenerate(*cfg.Generate, baseDir)
		if err != nil {
			return plan, err
		}
		plan.Generate = gen
	}

	classes := make(map[string]string)
	claim := func(section, class string) error {
		if class == "" {
			return fmt.Errorf("%s: class is required", section)
		}
		if prev, ok := classes[class]; ok {
			return fmt.Errorf("%s: class %s is already declared in %s", section, class, prev)
		}
		classes[class] = section
		return nil
	}

	for i, tc := range cfg.Tables {
		section := fmt.Sprintf("tables[%d]", i)
		if err := claim(section, tc.Class); err != nil {
			return plan, err
		}
		decl, err := resolveTable(tc, resolver)
		if err != nil {
			return plan, fmt.Errorf("%s (%s): %w", section, tc.Class, err)
		}
		plan.Tables = append(plan.Tables, decl)
	}

	links := make(map[string]bool)
	for i, lc := range cfg.Links {
		section := fmt.Sprintf("links[%d]", i)
		if err := claim(section, lc.Class); err != nil {
			return plan, err
		}
		if lc.Name == "" || len(lc.Links) == 0 {
			return plan, fmt.Errorf("%s (%s): name and links are required", section, lc.Class)
		}
		links[lc.Class] = true
		plan.Links = append(plan.Links, link.Spec{
			Class:   lc.Class,
			Name:    lc.Name,
			Comment: lc.Comment,
			Length:  lc.Length,
			Links:   lc.Links,
		})
	}

	for _, groups := range []struct {
		section string
		in      []GroupConfig
		out     *[]GroupPlan
	}{
		{"sets", cfg.Sets, &plan.Sets},
		{"lists", cfg.Lists, &plan.Lists},
	} {
		for i, gc := range groups.in {
			section := fmt.Sprintf("%s[%d]", groups.section, i)
			if err := claim(section, gc.Class); err != nil {
				return plan, err
			}
			gp, err := resolveGroup(gc, links)
			if err != nil {
				return plan, fmt.Errorf("%s (%s): %w", section, gc.Class, err)
			}
			*groups.out = append(*groups.out, gp)
		}
	}

	for i, mc := range cfg.Methods {
		section := fmt.Sprintf("methods[%d]", i)
		if err := claim(section, mc.Class); err != nil {
			return plan, err
		}
		if mc.Name == "" || len(mc.Methods) == 0 {
			return plan, fmt.Errorf("%s (%s): name and methods are required", section, mc.Class)
		}
		funcs := make(map[string]method.Func, len(mc.Methods))
		for _, name := range mc.Methods {
			if _, dup := funcs[name]; dup {
				return plan, fmt.Errorf("%s (%s): duplicate method %q", section, mc.Class, name)
			}
			funcs[name] = nil
		}
		plan.Methods = append(plan.Methods, method.Spec{
			Class:   mc.Class,
			Name:    mc.Name,
			Comment: mc.Comment,
			Methods: funcs,
		})
	}

	return plan, nil
}

// resolveDSN anchors relative sqlite database files at the config directory.
func resolveDSN(dialectName, dsn, baseDir string) string {
	if dialectName != "sqlite" || dsn == "" || dsn == ":memory:" ||
		strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(baseDir, dsn)
}

func resolveFiles(fc FilesConfig, baseDir string) (filestore.Options, error) {
	opts := filestore.Options{ChecksumCache: fc.ChecksumCache}
	if fc.ChecksumCache < 0 {
		return opts, errors.New("files.checksum_cache must not be negative")
	}
	if len(fc.Stores) == 0 {
		return opts, nil
	}
	opts.Stores = make(map[string]string, len(fc.Stores))
	for name, location := range fc.Stores {
		if location == "" {
			return opts, fmt.Errorf("files.stores.%s: location is required", name)
		}
		if !filepath.IsAbs(location) {
			location = filepath.Join(baseDir, location)
		}
		opts.Stores[name] = filepath.Clean(location)
	}
	return opts, nil
}

func resolveGenerate(gc GenerateConfig, baseDir string) (*GeneratePlan, error) {
	pkg := gc.Package
	if pkg == "" {
		pkg = "models"
	}
	if !token.IsIdentifier(pkg) || token.Lookup(pkg) != token.IDENT {
		return nil, fmt.Errorf("generate: invalid package name %q", pkg)
	}
	out, err := resolveOut(gc.Out, baseDir)
	if err != nil {
		return nil, err
	}
	return &GeneratePlan{Package: pkg, Out: out, EmitJSONTags: gc.EmitJSONTags}, nil
}

func resolveOut(out, baseDir string) (string, error) {
	if out == "" {
		return "", errors.New("generate.out is required")
	}
	if filepath.IsAbs(out) {
		return "", errors.New("generate.out must be a relative path")
	}
	cleaned := filepath.Clean(out)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errors.New("generate.out must not traverse upwards")
	}
	return filepath.Join(baseDir, cleaned), nil
}

func resolveTable(tc TableConfig, resolver fileset.Resolver) (schema.Declaration, error) {
	tier, err := model.ParseTier(tc.Tier)
	if err != nil {
		return schema.Declaration{}, err
	}
	if tier == model.TierPart || strings.Contains(tc.Class, ".") {
		return schema.Declaration{}, errors.New("part tables are declared by their master")
	}
	if len(tc.Contents) > 0 && tier != model.TierLookup {
		return schema.Declaration{}, errors.New("contents are only allowed on lookup tables")
	}

	def := tc.Definition
	switch {
	case def != "" && tc.File != "":
		return schema.Declaration{}, errors.New("definition and file are mutually exclusive")
	case tc.File != "":
		_, data, err := resolver.Load(tc.File)
		if err != nil {
			return schema.Declaration{}, err
		}
		def = string(data)
	case def == "":
		return schema.Declaration{}, errors.New("definition or file is required")
	}

	return schema.Declaration{
		Class:      tc.Class,
		Tier:       tier,
		Definition: def,
		Contents:   tc.Contents,
	}, nil
}

func resolveGroup(gc GroupConfig, links map[string]bool) (GroupPlan, error) {
	if gc.Name == "" {
		return GroupPlan{}, errors.New("name is required")
	}
	switch {
	case gc.Link != "" && len(gc.Keys) > 0:
		return GroupPlan{}, errors.New("keys and link are mutually exclusive")
	case gc.Link != "" && !links[gc.Link]:
		return GroupPlan{}, fmt.Errorf("link %s is not declared", gc.Link)
	case gc.Link == "" && len(gc.Keys) == 0:
		return GroupPlan{}, errors.New("keys or link is required")
	}
	return GroupPlan{
		Spec: group.Spec{
			Class:   gc.Class,
			Name:    gc.Name,
			Comment: gc.Comment,
			Length:  gc.Length,
			Keys:    gc.Keys,
		},
		Link: gc.Link,
	}, nil
}

var knownKeys = map[string][]string{
	"":           {"database", "connection", "cache", "files", "generate", "tables", "links", "sets", "lists", "methods"},
	"connection": {"dialect", "dsn"},
	"cache":      {"max_size"},
	"files":      {"checksum_cache", "stores"},
	"generate":   {"package", "out", "emit_json_tags"},
	"tables":     {"class", "tier", "definition", "file", "contents"},
	"links":      {"class", "name", "comment", "length", "links"},
	"sets":       {"class", "name", "comment", "length", "keys", "link"},
	"lists":      {"class", "name", "comment", "length", "keys", "link"},
	"methods":    {"class", "name", "comment", "methods"},
}

// collectUnknownKeys reports keys outside the schema as dotted paths in
// sorted order. Store names and table contents are free-form.
func collectUnknownKeys(raw map[string]any) []string {
	var unknown []string
	check := func(prefix, section string, record map[string]any) {
		for key := range record {
			if !slices.Contains(knownKeys[section], key) {
				unknown = append(unknown, prefix+key)
			}
		}
	}

	check("", "", raw)
	for section := range knownKeys {
		if section == "" {
			continue
		}
		switch value := raw[section].(type) {
		case map[string]any:
			check(section+".", section, value)
		case []any:
			for i, item := range value {
				if record, ok := item.(map[string]any); ok {
					check(fmt.Sprintf("%s[%d].", section, i), section, record)
				}
			}
		case []map[string]any:
			for i, record := range value {
				check(fmt.Sprintf("%s[%d].", section, i), section, record)
			}
		}
	}
	slices.Sort(unknown)
	return unknown
}
