package definition

import (
	"fmt"
	"slices"

	"github.com/electwix/relkit/internal/schema/model"
)

// Resolver returns the table a "->" reference names.
type Resolver func(ref string) (*model.Table, error)

// Table converts the definition into a table heading named name. References
// are resolved through resolve; a reference to a column already present
// reuses that column.
func (d *Definition) Table(name string, resolve Resolver) (*model.Table, error) {
	t := &model.Table{
		Name:       name,
		Doc:        d.Doc,
		PrimaryKey: &model.PrimaryKey{},
	}

	add := func(items []Item, primary bool) error {
		for _, it := range items {
			if it.Ref != "" {
				if err := addReference(t, it, primary, resolve); err != nil {
					return fmt.Errorf("%s: line %d: %w", name, it.Line, err)
				}
				continue
			}
			col, err := column(it, primary)
			if err != nil {
				return fmt.Errorf("%s: line %d: %w", name, it.Line, err)
			}
			if _, dup := t.Column(col.Name); dup {
				return fmt.Errorf("%s: line %d: duplicate attribute %q", name, it.Line, col.Name)
			}
			t.Columns = append(t.Columns, col)
			if primary {
				t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, col.Name)
			}
		}
		return nil
	}
	if err := add(d.Primary, true); err != nil {
		return nil, err
	}
	if err := add(d.Secondary, false); err != nil {
		return nil, err
	}
	return t, nil
}

func column(it Item, primary bool) (*model.Column, error) {
	a := it.Attribute
	col := &model.Column{
		Name: a.Name,
		Type: model.ColumnType{
			Name:     a.Type,
			Args:     slices.Clone(a.Args),
			Unsigned: a.Unsigned,
			Store:    a.Store,
		},
		NotNull: true,
		Comment: it.Comment,
	}
	if a.Default != nil {
		v := &model.Value{Text: a.Default.Text}
		switch a.Default.Kind {
		case DefaultString:
			v.Kind = model.ValueKindString
		case DefaultNumber:
			v.Kind = model.ValueKindNumber
		case DefaultKeyword:
			v.Kind = model.ValueKindKeyword
		case DefaultNull:
			if primary {
				return nil, fmt.Errorf("primary key attribute %q cannot be nullable", a.Name)
			}
			v.Kind = model.ValueKindNull
			col.NotNull = false
		}
		col.Default = v
	}
	return col, nil
}

func addReference(t *model.Table, it Item, primary bool, resolve Resolver) error {
	if resolve == nil {
		return fmt.Errorf("cannot resolve reference %q", it.Ref)
	}
	ref, err := resolve(it.Ref)
	if err != nil {
		return err
	}
	keys := ref.PrimaryKeyColumns()
	if len(keys) == 0 {
		return fmt.Errorf("referenced table %s has no primary key", ref.Name)
	}

	for _, key := range keys {
		if _, ok := t.Column(key); ok {
			continue
		}
		src, _ := ref.Column(key)
		col := &model.Column{Name: key, NotNull: true}
		if src != nil {
			col.Type = src.Type
			col.Comment = src.Comment
		}
		t.Columns = append(t.Columns, col)
		if primary {
			t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, key)
		}
	}
	for _, fk := range t.ForeignKeys {
		if fk.Ref.Table == ref.Name && slices.Equal(fk.Columns, keys) {
			return nil
		}
	}
	t.ForeignKeys = append(t.ForeignKeys, &model.ForeignKey{
		Columns: slices.Clone(keys),
		Ref:     model.ForeignKeyRef{Table: ref.Name, Columns: keys},
	})
	return nil
}
