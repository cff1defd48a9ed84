// Package schema declares tables from definition text and keeps the class
// to table mapping for one database.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/electwix/relkit/internal/dialect"
	"github.com/electwix/relkit/internal/keyhash"
	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema/definition"
	"github.com/electwix/relkit/internal/schema/model"
)

// ErrNotConnected is returned by operations that need a database when the
// schema only renders DDL.
var ErrNotConnected = errors.New("schema is not connected to a database")

// Declaration describes one table class.
type Declaration struct {
	// Class is the CamelCase class name. Part classes are named
	// "Master.Part".
	Class string
	Tier  model.Tier
	// Definition is the table body in definition syntax.
	Definition string
	// Contents are inserted into lookup tables.
	Contents []map[string]any
}

// Options configures New.
type Options struct {
	// Database names the schema; file paths are rooted under it.
	Database string
	// DB executes DDL and serves queries. When nil the schema only renders DDL.
	DB *relation.DB
	// Dialect renders DDL; defaults to the DB's dialect.
	Dialect dialect.Dialect
	Logger  logging.Logger
}

// Schema declares tables in order and resolves references between them.
type Schema struct {
	database string
	db       *relation.DB
	dialect  dialect.Dialect
	logger   logging.Logger

	mu      sync.RWMutex
	classes map[string]*model.Table
	catalog *model.Catalog
	ddl     []string
}

// New creates an empty schema.
func New(opts Options) (*Schema, error) {
	if opts.Database == "" {
		return nil, errors.New("schema: database name is required")
	}
	d := opts.Dialect
	if d == nil && opts.DB != nil {
		d = opts.DB.Dialect()
	}
	if d == nil {
		return nil, errors.New("schema: a dialect or database is required")
	}
	return &Schema{
		database: opts.Database,
		db:       opts.DB,
		dialect:  d,
		logger:   logging.OrNop(opts.Logger).With("database", opts.Database),
		classes:  make(map[string]*model.Table),
		catalog:  model.NewCatalog(),
	}, nil
}

// Database returns the schema's database name.
func (s *Schema) Database() string { return s.database }

// DB returns the connected database, or nil.
func (s *Schema) DB() *relation.DB { return s.db }

// Dialect returns the dialect DDL is rendered in.
func (s *Schema) Dialect() dialect.Dialect { return s.dialect }

// Logger returns the schema's logger.
func (s *Schema) Logger() logging.Logger { return s.logger }

// TableName maps a class to its table name: "SessionLink" becomes
// "session_link" and the part "SessionLink.Member" becomes
// "session_link__member".
func TableName(class string) (string, error) {
	master, part, isPart := strings.Cut(class, ".")
	name, err := keyhash.FromCamelCase(master)
	if err != nil {
		return "", err
	}
	if !isPart {
		return name, nil
	}
	partName, err := keyhash.FromCamelCase(part)
	if err != nil {
		return "", err
	}
	return name + "__" + partName, nil
}

// Declare parses decl, creates its table and registers it. Lookup contents
// are inserted skipping rows that already exist.
func (s *Schema) Declare(ctx context.Context, decl Declaration) (*model.Table, error) {
	name, err := TableName(decl.Class)
	if err != nil {
		return nil, fmt.Errorf("declare %s: %w", decl.Class, err)
	}
	masterClass, _, isPart := strings.Cut(decl.Class, ".")
	tier := decl.Tier
	if isPart {
		tier = model.TierPart
	}

	def, err := definition.Parse(decl.Definition)
	if err != nil {
		return nil, fmt.Errorf("declare %s: %w", decl.Class, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.classes[decl.Class]; exists {
		return nil, fmt.Errorf("declare %s: class already declared", decl.Class)
	}
	resolve := func(ref string) (*model.Table, error) {
		if ref == "master" {
			if !isPart {
				return nil, fmt.Errorf("%s is not a part table", decl.Class)
			}
			ref = masterClass
		}
		t, ok := s.classes[ref]
		if !ok {
			return nil, fmt.Errorf("unknown class %q", ref)
		}
		return t, nil
	}
	table, err := def.Table(name, resolve)
	if err != nil {
		return nil, fmt.Errorf("declare %s: %w", decl.Class, err)
	}
	table.Class = decl.Class
	table.Tier = tier
	table.Contents = decl.Contents
	if isPart {
		master := s.classes[masterClass]
		if master == nil {
			return nil, fmt.Errorf("declare %s: master %s is not declared", decl.Class, masterClass)
		}
		table.Master = master.Name
	}

	stmt := s.dialect.CreateTable(table)
	if s.db != nil {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("declare %s: %w", decl.Class, err)
		}
		s.db.Register(table)
		if len(table.Contents) > 0 {
			rows := make([]relation.Tuple, len(table.Contents))
			for i, row := range table.Contents {
				rows[i] = relation.Tuple(row)
			}
			q, err := s.db.Table(table.Name)
			if err != nil {
				return nil, err
			}
			if err := q.Insert(ctx, rows, relation.InsertOptions{SkipDuplicates: true}); err != nil {
				return nil, fmt.Errorf("declare %s: contents: %w", decl.Class, err)
			}
		}
	}

	s.classes[decl.Class] = table
	s.catalog.Add(table)
	s.ddl = append(s.ddl, stmt)
	s.logger.Debug("table declared", "class", decl.Class, "table", table.Name, "tier", tier.String())
	return table, nil
}

// Model returns the heading declared for class.
func (s *Schema) Model(class string) (*model.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.classes[class]
	return t, ok
}

// Table returns a query over the table declared for class.
func (s *Schema) Table(class string) (*relation.Query, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}
	t, ok := s.Model(class)
	if !ok {
		return nil, fmt.Errorf("unknown class %q", class)
	}
	return s.db.Table(t.Name)
}

// Tables returns declared headings in declaration order.
func (s *Schema) Tables() []*model.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Ordered()
}

// Parts returns the part tables of the master class in declaration order.
func (s *Schema) Parts(class string) []*model.Table {
	master, ok := s.Model(class)
	if !ok {
		return nil
	}
	var out []*model.Table
	for _, t := range s.Tables() {
		if t.Tier == model.TierPart && t.Master == master.Name {
			out = append(out, t)
		}
	}
	return out
}

// DDL returns the CREATE TABLE statements issued so far.
func (s *Schema) DDL() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ddl...)
}
