package rowcache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/electwix/relkit/internal/keyhash"
	"github.com/electwix/relkit/internal/relation"
)

// Memoize evaluates fn for row under the scope carried by ctx. Without a
// scope, or when the scope excludes the row's relation, fn is called
// directly. Otherwise the result is cached under the fingerprint of the
// row's primary key, relation name and method. Errors are never cached.
func Memoize[T any](ctx context.Context, row Row, method string, fn func(context.Context) (T, error)) (T, error) {
	s, ok := FromContext(ctx)
	if !ok || !s.Applies(row.Name()) {
		return fn(ctx)
	}

	key, err := row.FetchKey(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("memoize %s.%s: %w", row.Name(), method, err)
	}

	fp := Fingerprint(row.Name(), method, key)
	if v, ok := s.cache.Get(fp); ok {
		// A nil result of an interface type is stored as a nil any.
		if v == nil {
			var zero T
			return zero, nil
		}
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	s.cache.Put(fp, v)
	return v, nil
}

// Property is Memoize for row properties: row must denote exactly one
// record, otherwise a *relation.RestrictionError is returned before any
// caching logic runs.
func Property[T any](ctx context.Context, row Row, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	n, err := row.Count(ctx)
	if err != nil {
		return zero, err
	}
	if n != 1 {
		return zero, &relation.RestrictionError{Relation: row.Name(), Count: n}
	}
	return Memoize(ctx, row, method, fn)
}

// Fingerprint identifies a (row, method) pair. Each component is quoted so
// that adjacent values cannot run together.
func Fingerprint(name, method string, key relation.Tuple) string {
	parts := make(map[string]string, len(key)+2)
	for k, v := range key {
		parts[k] = strconv.Quote(keyhash.Format(v))
	}
	parts["\x00method"] = strconv.Quote(method)
	parts["\x00relation"] = strconv.Quote(name)
	return keyhash.Hash(parts)
}
