// Package rowcache memoizes per-row computed properties.
//
// A caching scope is carried by a context. Inside a scope, repeated
// evaluations of the same method on rows with the same primary key reuse the
// first result. The scope's Cache holds a bounded number of results and
// evicts the oldest inserted entry when full.
//
// Usage:
//
//	err := rowcache.Do(ctx, func(ctx context.Context) error {
//	    area, err := rowcache.Property(ctx, scan.Restrict(key), "area", func(ctx context.Context) (float64, error) {
//	        return computeArea(ctx, scan.Restrict(key))
//	    })
//	    ...
//	}, rowcache.WithMaxSize(1024))
//
// Nested scopes reuse an enclosing non-selective scope, so helpers may open
// their own scope without discarding the caller's entries.
package rowcache
