package rowcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/electwix/relkit/internal/logging"
	"github.com/electwix/relkit/internal/relation"
)

// ErrUnsupportedRow is returned when an allow-list entry cannot be identified
// as a row relation.
var ErrUnsupportedRow = errors.New("rowcache: only named row relations can be cached")

// Row is a relation handle whose computed properties can be memoized.
type Row interface {
	// Name identifies the relation the row belongs to.
	Name() string
	// Count returns the number of records the handle denotes.
	Count(ctx context.Context) (int, error)
	// FetchKey returns the primary-key values of the single denoted record.
	FetchKey(ctx context.Context) (relation.Tuple, error)
}

// Scope is an active row cache, optionally restricted to an allow-list of
// relation names.
type Scope struct {
	id     string
	cache  *Cache[string, any]
	only   map[string]struct{}
	closed atomic.Bool
	// prev is the scope that was live when this one was entered.
	prev *Scope
}

// ID returns the scope identifier used in log lines.
func (s *Scope) ID() string { return s.id }

// Cache exposes the scope's cache.
func (s *Scope) Cache() *Cache[string, any] { return s.cache }

// Selective reports whether the scope caches only allow-listed relations.
func (s *Scope) Selective() bool { return s.only != nil }

// Applies reports whether rows of the named relation are memoized.
func (s *Scope) Applies(name string) bool {
	if s.only == nil {
		return true
	}
	_, ok := s.only[name]
	return ok
}

type scopeKey struct{}

// FromContext returns the live scope carried by ctx. A released scope
// yields to the scope that was live when it was entered.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	for s != nil && s.closed.Load() {
		s = s.prev
	}
	if s == nil {
		return nil, false
	}
	return s, true
}

type options struct {
	maxSize int
	only    []Row
	logger  logging.Logger
}

// Option configures Enter.
type Option func(*options)

// WithMaxSize bounds the scope's cache; n <= 0 leaves it unbounded.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// Only restricts memoization to rows of the given relations.
func Only(rows ...Row) Option {
	return func(o *options) { o.only = append(o.only, rows...) }
}

// WithLogger reports scope entry and release at debug level.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Enter returns a context with an active row cache and a release func that
// restores the previous state. If ctx already carries a live non-selective
// scope it is reused as is, and release does nothing.
//
// After release, contexts derived from the returned one see the scope that
// was live in ctx, if any.
func Enter(ctx context.Context, opts ...Option) (context.Context, func(), error) {
	o := options{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	only, err := allowList(o.only)
	if err != nil {
		return ctx, func() {}, err
	}

	cur, ok := FromContext(ctx)
	if ok && !cur.Selective() {
		o.logger.Debug("row cache scope reused", "scope", cur.id)
		return ctx, func() {}, nil
	}

	s := &Scope{
		id:    uuid.NewString(),
		cache: NewCache[string, any](o.maxSize),
		only:  only,
		prev:  cur,
	}
	o.logger.Debug("row cache scope entered", "scope", s.id, "max_size", o.maxSize, "selective", s.Selective())

	release := sync.OnceFunc(func() {
		s.closed.Store(true)
		o.logger.Debug("row cache scope released", "scope", s.id, "entries", s.cache.Len())
		s.cache.Clear()
	})
	return context.WithValue(ctx, scopeKey{}, s), release, nil
}

// Do runs fn inside a caching scope. The scope is released on every exit
// path, including panics.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	ctx, release, err := Enter(ctx, opts...)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Disable returns a context in which memoization is inactive.
func Disable(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, (*Scope)(nil))
}

func allowList(rows []Row) (map[string]struct{}, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	only := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row == nil || row.Name() == "" {
			return nil, ErrUnsupportedRow
		}
		only[row.Name()] = struct{}{}
	}
	return only, nil
}
