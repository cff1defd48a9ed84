// Package fileset locates definition files referenced from configuration.
package fileset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Resolver matches glob patterns against an fs.FS and rewrites the matched
// names using a join function.
type Resolver struct {
	fsys fs.FS
	join func(name string) string
}

// ErrNoPatterns indicates that Load was invoked with an empty pattern.
var ErrNoPatterns = errors.New("fileset: no pattern provided")

// PatternError wraps syntax issues reported while evaluating a glob pattern.
type PatternError struct {
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e PatternError) Error() string {
	return fmt.Sprintf("invalid glob pattern %q: %v", e.Pattern, e.Err)
}

// Unwrap returns the underlying error.
func (e PatternError) Unwrap() error { return e.Err }

// NoMatchError reports a pattern that yielded no files.
type NoMatchError struct {
	Pattern string
}

// Error implements the error interface.
func (e NoMatchError) Error() string {
	return "pattern matched no files: " + e.Pattern
}

// AmbiguousError reports a pattern that matched more than one file.
type AmbiguousError struct {
	Pattern string
	Matches []string
}

// Error implements the error interface.
func (e AmbiguousError) Error() string {
	return fmt.Sprintf("pattern %q matched %d files: %s", e.Pattern, len(e.Matches), strings.Join(e.Matches, ", "))
}

// NewResolver constructs a Resolver against the provided filesystem without any
// path rewriting, preserving the original match names. Useful for tests.
func NewResolver(fsys fs.FS) Resolver {
	return Resolver{
		fsys: fsys,
		join: func(name string) string { return name },
	}
}

// NewOSResolver constructs a Resolver rooted at base that returns absolute OS
// paths for each match.
func NewOSResolver(base string) (Resolver, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return Resolver{}, fmt.Errorf("resolve base %q: %w", base, err)
	}

	info, err := os.Stat(absBase)
	if err != nil {
		return Resolver{}, fmt.Errorf("stat base %q: %w", absBase, err)
	}
	if !info.IsDir() {
		return Resolver{}, fmt.Errorf("base %q is not a directory", absBase)
	}

	return Resolver{
		fsys: os.DirFS(absBase),
		join: func(name string) string {
			return filepath.Join(absBase, filepath.FromSlash(name))
		},
	}, nil
}

// Load reads the single file matched by pattern and returns its joined path
// and content.
func (r Resolver) Load(pattern string) (string, []byte, error) {
	if r.fsys == nil {
		return "", nil, errors.New("fileset: resolver has no filesystem")
	}
	if pattern == "" {
		return "", nil, ErrNoPatterns
	}

	matches, err := fs.Glob(r.fsys, filepath.ToSlash(pattern))
	if err != nil {
		return "", nil, PatternError{Pattern: pattern, Err: err}
	}
	switch len(matches) {
	case 0:
		return "", nil, NoMatchError{Pattern: pattern}
	case 1:
	default:
		return "", nil, AmbiguousError{Pattern: pattern, Matches: matches}
	}

	data, err := fs.ReadFile(r.fsys, matches[0])
	if err != nil {
		return "", nil, fmt.Errorf("fileset: %w", err)
	}
	join := r.join
	if join == nil {
		join = func(name string) string { return name }
	}
	return join(matches[0]), data, nil
}
