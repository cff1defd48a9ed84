// Package filestore derives content-addressed paths for filepath attributes
// and keeps the stores tidy.
//
// A file for attribute attr of the row with primary key pk lives at
//
//	<store location>/<database>/<table name>/<keyhash(pk)>/<attr>[.suffix]
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/electwix/relkit/internal/keyhash"
	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/rowcache"
	"github.com/electwix/relkit/internal/schema"
	"github.com/electwix/relkit/internal/schema/model"
)

// DefaultChecksumCache bounds the number of verified paths remembered.
const DefaultChecksumCache = 1024

// ErrDeclined is returned by Prune when confirmation is refused.
var ErrDeclined = errors.New("filestore: prune declined")

// Options configures New.
type Options struct {
	// Stores maps store names to root directories.
	Stores map[string]string
	// ChecksumCache bounds the verified path cache; 0 selects
	// DefaultChecksumCache and a negative value disables the bound.
	ChecksumCache int
	Logger        logging.Logger
}

// Store resolves file paths for the tables of one schema.
type Store struct {
	schema    *schema.Schema
	stores    map[string]string
	checksums *rowcache.Cache[string, struct{}]
	logger    logging.Logger
}

// New returns a Store for s.
func New(s *schema.Schema, opts Options) *Store {
	size := opts.ChecksumCache
	if size == 0 {
		size = DefaultChecksumCache
	}
	return &Store{
		schema:    s,
		stores:    opts.Stores,
		checksums: rowcache.NewCache[string, struct{}](size),
		logger:    logging.OrNop(opts.Logger),
	}
}

// TablePath returns the table's directory relative to a store root.
func (s *Store) TablePath(class string) (string, error) {
	t, ok := s.schema.Model(class)
	if !ok {
		return "", fmt.Errorf("unknown class %q", class)
	}
	return filepath.Join(s.schema.Database(), t.Name), nil
}

func (s *Store) column(class, attr string) (*model.Table, string, error) {
	t, ok := s.schema.Model(class)
	if !ok {
		return nil, "", fmt.Errorf("unknown class %q", class)
	}
	col, ok := t.Column(attr)
	if !ok || col.Type.Store == "" {
		return nil, "", fmt.Errorf("%s.%s is not a filepath attribute", class, attr)
	}
	location, ok := s.stores[col.Type.Store]
	if !ok {
		return nil, "", fmt.Errorf("%s.%s: store %q is not configured", class, attr, col.Type.Store)
	}
	return t, location, nil
}

func (s *Store) keyDir(t *model.Table, location string, key relation.Tuple) (string, error) {
	pk := t.PrimaryKeyColumns()
	values := make(map[string]any, len(pk))
	for _, name := range pk {
		v, ok := key[name]
		if !ok {
			return "", fmt.Errorf("%s: key is missing %q", t.Name, name)
		}
		values[name] = v
	}
	return filepath.Join(location, s.schema.Database(), t.Name, keyhash.Hash(values)), nil
}

// CreatePath returns the path for attr of the row identified by key and
// creates its directory.
func (s *Store) CreatePath(class string, key relation.Tuple, attr, suffix string) (string, error) {
	t, location, err := s.column(class, attr)
	if err != nil {
		return "", err
	}
	dir, err := s.keyDir(t, location, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create path: %w", err)
	}
	name := attr
	if suffix != "" {
		name += "." + suffix
	}
	return filepath.Join(dir, name), nil
}

func resolve(location string, stored any) (string, error) {
	p, ok := stored.(string)
	if !ok || p == "" {
		return "", fmt.Errorf("stored path %v is not a string", stored)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(location, p)
	}
	return filepath.Clean(p), nil
}

// Path returns the file path stored in attr of row, which must denote one
// record. With verify set, the path is checked against the row's key
// directory and the file must exist; each path is verified once while it
// stays in the checksum cache.
func (s *Store) Path(ctx context.Context, class string, row *relation.Query, attr string, verify bool) (string, error) {
	t, location, err := s.column(class, attr)
	if err != nil {
		return "", err
	}
	tuple, err := row.Fetch1(ctx)
	if err != nil {
		return "", err
	}
	path, err := resolve(location, tuple[attr])
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", class, attr, err)
	}
	if !verify || s.checksums.Contains(path) {
		return path, nil
	}

	dir, err := s.keyDir(t, location, tuple)
	if err != nil {
		return "", err
	}
	if filepath.Dir(path) != dir {
		return "", fmt.Errorf("%s.%s: %s is outside %s", class, attr, path, dir)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s.%s: %w", class, attr, err)
	}
	s.checksums.Put(path, struct{}{})
	return path, nil
}

// PruneResult counts what Prune removed.
type PruneResult struct {
	Files int
	Dirs  int
}

// Prune removes files under the table's directories that no row refers to,
// then removes empty directories. confirm is asked first; nil proceeds.
func (s *Store) Prune(ctx context.Context, class string, confirm func(prompt string) bool) (PruneResult, error) {
	var res PruneResult
	if confirm != nil && !confirm(fmt.Sprintf("Are you sure you want to prune %s?", class)) {
		return res, ErrDeclined
	}
	t, ok := s.schema.Model(class)
	if !ok {
		return res, fmt.Errorf("unknown class %q", class)
	}
	q, err := s.schema.Table(class)
	if err != nil {
		return res, err
	}
	rows, err := q.Fetch(ctx)
	if err != nil {
		return res, err
	}

	byStore := make(map[string][]string)
	for _, col := range t.FilepathColumns() {
		byStore[col.Type.Store] = append(byStore[col.Type.Store], col.Name)
	}
	stores := make([]string, 0, len(byStore))
	for store := range byStore {
		stores = append(stores, store)
	}
	slices.Sort(stores)

	for _, store := range stores {
		location, ok := s.stores[store]
		if !ok {
			return res, fmt.Errorf("%s: store %q is not configured", class, store)
		}
		tracked := make(map[string]bool)
		for _, row := range rows {
			for _, attr := range byStore[store] {
				if p, err := resolve(location, row[attr]); err == nil {
					tracked[p] = true
				}
			}
		}
		root := filepath.Join(location, s.schema.Database(), t.Name)
		files, dirs, err := prune(root, tracked)
		if err != nil {
			return res, err
		}
		res.Files += files
		res.Dirs += dirs
	}
	s.logger.Info("pruned file store", "class", class, "files", res.Files, "dirs", res.Dirs)
	return res, nil
}

func prune(root string, tracked map[string]bool) (files, dirs int, err error) {
	var all []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			all = append(all, path)
			return nil
		}
		if !tracked[filepath.Clean(path)] {
			if err := os.Remove(path); err != nil {
				return err
			}
			files++
		}
		return nil
	})
	if err != nil {
		return files, dirs, fmt.Errorf("prune %s: %w", root, err)
	}

	// Deepest first so parents empty out before they are checked.
	slices.SortFunc(all, func(a, b string) int {
		return strings.Count(b, string(filepath.Separator)) - strings.Count(a, string(filepath.Separator))
	})
	for _, dir := range all {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return files, dirs, fmt.Errorf("prune %s: %w", root, err)
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				return files, dirs, fmt.Errorf("prune %s: %w", root, err)
			}
			dirs++
		}
	}
	return files, dirs, nil
}
