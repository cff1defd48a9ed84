package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/electwix/relkit/internal/config"
	"github.com/electwix/relkit/internal/filestore"
	"github.com/electwix/relkit/internal/group"
	"github.com/electwix/relkit/internal/link"
	"github.com/electwix/relkit/internal/method"
	"github.com/electwix/relkit/internal/schema"
)

// Declared holds the components created from a plan.
type Declared struct {
	Schema  *schema.Schema
	Files   *filestore.Store
	Links   map[string]*link.Link
	Sets    map[string]*group.Set
	Lists   map[string]*group.List
	Methods map[string]*method.Table
}

// Declare creates every table the plan names on s, in the order tables,
// links, sets, lists, methods. Funcs in bind are attached to the declared
// method tables by class and method name.
func Declare(ctx context.Context, s *schema.Schema, plan config.Plan, bind map[string]map[string]method.Func) (*Declared, error) {
	d := &Declared{
		Schema:  s,
		Links:   make(map[string]*link.Link),
		Sets:    make(map[string]*group.Set),
		Lists:   make(map[string]*group.List),
		Methods: make(map[string]*method.Table),
	}

	for _, decl := range plan.Tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.Declare(ctx, decl); err != nil {
			return nil, err
		}
	}
	if err := checkStores(s, plan.Files.Stores); err != nil {
		return nil, err
	}
	files := plan.Files
	files.Logger = s.Logger()
	d.Files = filestore.New(s, files)

	for _, spec := range plan.Links {
		l, err := link.Declare(ctx, s, spec)
		if err != nil {
			return nil, err
		}
		d.Links[spec.Class] = l
	}

	for _, gp := range plan.Sets {
		var (
			set *group.Set
			err error
		)
		if gp.Link != "" {
			set, err = group.DeclareLinkSet(ctx, s, gp.Spec, d.Links[gp.Link])
		} else {
			set, err = group.DeclareSet(ctx, s, gp.Spec)
		}
		if err != nil {
			return nil, err
		}
		d.Sets[gp.Spec.Class] = set
	}

	for _, gp := range plan.Lists {
		var (
			list *group.List
			err  error
		)
		if gp.Link != "" {
			list, err = group.DeclareLinkList(ctx, s, gp.Spec, d.Links[gp.Link])
		} else {
			list, err = group.DeclareList(ctx, s, gp.Spec)
		}
		if err != nil {
			return nil, err
		}
		d.Lists[gp.Spec.Class] = list
	}

	for _, spec := range plan.Methods {
		tbl, err := method.Declare(ctx, s, spec)
		if err != nil {
			return nil, err
		}
		for _, name := range slices.Sorted(maps.Keys(bind[spec.Class])) {
			if err := tbl.Bind(name, bind[spec.Class][name]); err != nil {
				return nil, err
			}
		}
		d.Methods[spec.Class] = tbl
	}
	return d, nil
}

// checkStores fails when a filepath attribute names an unconfigured store.
func checkStores(s *schema.Schema, stores map[string]string) error {
	for _, t := range s.Tables() {
		for _, col := range t.FilepathColumns() {
			if _, ok := stores[col.Type.Store]; !ok {
				return fmt.Errorf("%s.%s: store %q is not configured", t.Class, col.Name, col.Type.Store)
			}
		}
	}
	return nil
}

// FillLinks inserts missing keys into every link and returns the number of
// rows inserted per link class.
func (d *Declared) FillLinks(ctx context.Context) (map[string]int, error) {
	filled := make(map[string]int, len(d.Links))
	for _, class := range slices.Sorted(maps.Keys(d.Links)) {
		n, err := d.Links[class].Fill(ctx)
		if err != nil {
			return filled, fmt.Errorf("fill %s: %w", class, err)
		}
		filled[class] = n
	}
	return filled, nil
}
