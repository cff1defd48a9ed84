package relation

import (
	"context"
	"fmt"

	"github.com/electwix/relkit/internal/keyhash"
)

// Merge joins table with others. It fails with a *MissingError when any
// tuple of table has no partner in the join.
func Merge(ctx context.Context, table *Query, others ...*Query) (*Query, error) {
	merged := table
	for _, o := range others {
		merged = merged.Join(o)
	}

	missing, err := table.Proj().Minus(merged.Proj()).Exists(ctx)
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, &MissingError{Relation: table.Name(), Reason: "tuples are missing from the merge"}
	}
	return merged, nil
}

// Unique returns the single distinct value of attr in q.
func Unique(ctx context.Context, q *Query, attr string) (any, error) {
	values, err := q.FetchColumn(ctx, attr)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]any)
	for _, v := range values {
		seen[keyhash.Format(v)] = v
	}
	if len(seen) != 1 {
		return nil, fmt.Errorf("%s: expected one distinct %s, found %d", q.Name(), attr, len(seen))
	}
	for _, v := range seen {
		return v, nil
	}
	return nil, nil
}
