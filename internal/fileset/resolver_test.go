package fileset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"testing/fstest"
)

func TestResolverLoad(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"tables/subject.def": &fstest.MapFile{Data: []byte("subject_id : int\n")},
		"tables/session.def": &fstest.MapFile{Data: []byte("-> Subject\nsession : int\n")},
	}
	resolver := NewResolver(fsys)

	path, data, err := resolver.Load("tables/subj*.def")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if path != "tables/subject.def" {
		t.Fatalf("unexpected path: %q", path)
	}
	if string(data) != "subject_id : int\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestResolverLoadErrors(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(fstest.MapFS{
		"tables/a.def": &fstest.MapFile{},
		"tables/b.def": &fstest.MapFile{},
	})

	_, _, err := resolver.Load("tables/c.def")
	var noMatch NoMatchError
	if !errors.As(err, &noMatch) || noMatch.Pattern != "tables/c.def" {
		t.Fatalf("expected NoMatchError, got %T: %v", err, err)
	}

	_, _, err = resolver.Load("tables/*.def")
	var ambiguous AmbiguousError
	if !errors.As(err, &ambiguous) || len(ambiguous.Matches) != 2 {
		t.Fatalf("expected AmbiguousError, got %T: %v", err, err)
	}

	_, _, err = resolver.Load("[")
	var patternErr PatternError
	if !errors.As(err, &patternErr) || patternErr.Pattern != "[" {
		t.Fatalf("expected PatternError, got %T: %v", err, err)
	}

	if _, _, err := resolver.Load(""); !errors.Is(err, ErrNoPatterns) {
		t.Fatalf("expected ErrNoPatterns, got %v", err)
	}

	if _, _, err := (Resolver{}).Load("x"); err == nil {
		t.Fatal("expected error for a resolver without filesystem")
	}
}

func TestOSResolver(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "subject.def"), []byte("subject_id : int\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolver, err := NewOSResolver(dir)
	if err != nil {
		t.Fatalf("NewOSResolver returned error: %v", err)
	}
	path, _, err := resolver.Load("subject.def")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if path != filepath.Join(dir, "subject.def") {
		t.Fatalf("unexpected path: %q", path)
	}

	if _, err := NewOSResolver(filepath.Join(dir, "subject.def")); err == nil {
		t.Fatal("expected error for a file base")
	}
}
