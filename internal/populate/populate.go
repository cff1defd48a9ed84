// Package populate computes missing rows of a table from the keys of a
// source relation.
package populate

import (
	"context"
	"errors"
	"fmt"

	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/rowcache"
)

// MakeFunc computes and inserts the rows for one key.
type MakeFunc func(ctx context.Context, key relation.Tuple) error

// SkipMissing wraps fn so that a relation.ErrMissing failure is logged and
// the key skipped.
func SkipMissing(fn MakeFunc, logger logging.Logger) MakeFunc {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, key relation.Tuple) error {
		err := fn(ctx, key)
		if errors.Is(err, relation.ErrMissing) {
			logger.Warn("missing data, not populating", "key", key, "error", err)
			return nil
		}
		return err
	}
}

// Options configures Populate.
type Options struct {
	// Restriction narrows the source keys.
	Restriction relation.Restriction
	// Limit caps the number of keys made; zero means all.
	Limit int
	// Cache runs every call inside one row cache scope.
	Cache        bool
	CacheMaxSize int
	// SuppressErrors records failures and continues with the next key.
	SuppressErrors bool
	Logger         logging.Logger
}

// KeyError is a make failure for one key.
type KeyError struct {
	Key relation.Tuple
	Err error
}

func (e *KeyError) Error() string { return fmt.Sprintf("populate %v: %v", e.Key, e.Err) }

func (e *KeyError) Unwrap() error { return e.Err }

// Result summarizes a Populate run.
type Result struct {
	Pending int
	Made    int
	Errors  []*KeyError
}

// Populate calls fn for every key of source that target does not hold yet.
// Keys are visited in primary key order.
func Populate(ctx context.Context, source, target *relation.Query, fn MakeFunc, opts Options) (Result, error) {
	var res Result
	logger := logging.OrNop(opts.Logger).With("target", target.Name())

	keys, err := source.Apply(opts.Restriction).Proj().Minus(target).FetchKeys(ctx)
	if err != nil {
		return res, fmt.Errorf("populate %s: %w", target.Name(), err)
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}
	res.Pending = len(keys)
	if len(keys) == 0 {
		logger.Debug("nothing to populate")
		return res, nil
	}
	logger.Info("populating", "keys", len(keys))

	run := func(ctx context.Context) error {
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, key); err != nil {
				ke := &KeyError{Key: key, Err: err}
				if !opts.SuppressErrors {
					return ke
				}
				logger.Error("make failed", "key", key, "error", err)
				res.Errors = append(res.Errors, ke)
				continue
			}
			res.Made++
		}
		return nil
	}

	if opts.Cache {
		err = rowcache.Do(ctx, run, rowcache.WithMaxSize(opts.CacheMaxSize), rowcache.WithLogger(logger))
	} else {
		err = run(ctx)
	}
	logger.Info("populated", "made", res.Made, "errors", len(res.Errors))
	return res, err
}
