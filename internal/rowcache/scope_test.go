package rowcache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/electwix/relkit/internal/relation"
)

type fakeRow struct {
	name  string
	key   relation.Tuple
	count int
}

func (r fakeRow) Name() string { return r.name }

func (r fakeRow) Count(context.Context) (int, error) { return r.count, nil }

func (r fakeRow) FetchKey(context.Context) (relation.Tuple, error) {
	if r.count != 1 {
		return nil, &relation.RestrictionError{Relation: r.name, Count: r.count}
	}
	return r.key, nil
}

func row(name string, id int) fakeRow {
	return fakeRow{name: name, key: relation.Tuple{"id": id}, count: 1}
}

// counter returns a compute func that records how often it ran.
func counter(calls *int, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		return value, nil
	}
}

func TestNestedScopeScenario(t *testing.T) {
	ctx, release, err := Enter(context.Background(), WithMaxSize(2))
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	scope, _ := FromContext(ctx)

	calls := map[int]int{}
	get := func(ctx context.Context, id int) string {
		t.Helper()
		c := calls[id]
		v, err := Memoize(ctx, row("session", id), "m", counter(&c, fmt.Sprintf("V%d", id)))
		calls[id] = c
		if err != nil {
			t.Fatalf("Memoize(%d) error = %v", id, err)
		}
		return v
	}

	if v := get(ctx, 1); v != "V1" || calls[1] != 1 {
		t.Fatalf("first call = %q (calls %d)", v, calls[1])
	}
	if v := get(ctx, 1); v != "V1" || calls[1] != 1 {
		t.Fatalf("second call = %q (calls %d), want cached", v, calls[1])
	}

	inner, innerRelease, err := Enter(ctx, WithMaxSize(10))
	if err != nil {
		t.Fatalf("nested Enter() error = %v", err)
	}
	if s, _ := FromContext(inner); s != scope {
		t.Fatal("nested Enter() created a second scope")
	}
	get(inner, 2)
	innerRelease()
	if _, ok := FromContext(ctx); !ok {
		t.Fatal("inner release closed the outer scope")
	}
	if scope.Cache().Len() != 2 {
		t.Fatalf("Len() = %d after inner release, want 2", scope.Cache().Len())
	}

	get(ctx, 3)
	if scope.Cache().Contains(Fingerprint("session", "m", relation.Tuple{"id": 1})) {
		t.Error("row1 survived eviction")
	}
	get(ctx, 2)
	if calls[2] != 1 {
		t.Errorf("row2 calls = %d, want 1", calls[2])
	}

	release()
	if _, ok := FromContext(ctx); ok {
		t.Error("scope still live after release")
	}
	get(ctx, 2)
	get(ctx, 2)
	if calls[2] != 3 {
		t.Errorf("row2 calls outside scope = %d, want 3", calls[2])
	}
}

func TestReleaseIdempotent(t *testing.T) {
	ctx, release, err := Enter(context.Background())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	scope, _ := FromContext(ctx)
	scope.Cache().Put("x", 1)
	release()
	release()
	if scope.Cache().Len() != 0 {
		t.Errorf("Len() = %d after release, want 0", scope.Cache().Len())
	}
}

func TestDoReleasesOnEveryExit(t *testing.T) {
	var seen *Scope
	sentinel := errors.New("boom")
	err := Do(context.Background(), func(ctx context.Context) error {
		seen, _ = FromContext(ctx)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want %v", err, sentinel)
	}
	if seen == nil || !seen.closed.Load() {
		t.Error("scope not released after error")
	}

	seen = nil
	func() {
		defer func() { _ = recover() }()
		_ = Do(context.Background(), func(ctx context.Context) error {
			seen, _ = FromContext(ctx)
			panic("boom")
		})
	}()
	if seen == nil || !seen.closed.Load() {
		t.Error("scope not released after panic")
	}
}

func TestSelectiveScope(t *testing.T) {
	ctx, release, err := Enter(context.Background(), Only(fakeRow{name: "session"}))
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	defer release()

	var sessionCalls, subjectCalls int
	for range 3 {
		if _, err := Memoize(ctx, row("session", 1), "m", counter(&sessionCalls, "s")); err != nil {
			t.Fatal(err)
		}
		if _, err := Memoize(ctx, row("subject", 1), "m", counter(&subjectCalls, "s")); err != nil {
			t.Fatal(err)
		}
	}
	if sessionCalls != 1 {
		t.Errorf("allow-listed calls = %d, want 1", sessionCalls)
	}
	if subjectCalls != 3 {
		t.Errorf("excluded calls = %d, want 3", subjectCalls)
	}

	nested, nestedRelease, err := Enter(ctx)
	if err != nil {
		t.Fatalf("nested Enter() error = %v", err)
	}
	defer nestedRelease()
	outer, _ := FromContext(ctx)
	if s, _ := FromContext(nested); s == outer || s.Selective() {
		t.Error("non-selective Enter inside a selective scope did not install a new cache")
	}
}

func TestReleasedScopeFallsBackToParent(t *testing.T) {
	ctx, release, err := Enter(context.Background(), Only(fakeRow{name: "session"}))
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	outer, _ := FromContext(ctx)

	inner, innerRelease, err := Enter(ctx)
	if err != nil {
		t.Fatal(err)
	}
	derived, cancel := context.WithCancel(inner)
	defer cancel()
	innerRelease()

	if s, ok := FromContext(derived); !ok || s != outer {
		t.Fatalf("FromContext(derived) = %v, %v, want the outer scope", s, ok)
	}
	var calls int
	for range 2 {
		if _, err := Memoize(derived, row("session", 1), "m", counter(&calls, "v")); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("calls = %d through the outer scope, want 1", calls)
	}

	release()
	if _, ok := FromContext(derived); ok {
		t.Error("FromContext(derived) still active after every scope was released")
	}
}

func TestEnterUnsupportedRow(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
	}{
		{"nil", []Row{nil}},
		{"unnamed", []Row{fakeRow{}}},
		{"mixed", []Row{fakeRow{name: "ok"}, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, release, err := Enter(context.Background(), Only(tt.rows...))
			defer release()
			if !errors.Is(err, ErrUnsupportedRow) {
				t.Fatalf("Enter() error = %v, want ErrUnsupportedRow", err)
			}
			if _, ok := FromContext(ctx); ok {
				t.Error("failed Enter() left a scope active")
			}
		})
	}
}

func TestDisable(t *testing.T) {
	ctx, release, err := Enter(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	off := Disable(ctx)
	var calls int
	for range 2 {
		if _, err := Memoize(off, row("session", 1), "m", counter(&calls, "v")); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 2 {
		t.Errorf("calls = %d with caching disabled, want 2", calls)
	}
	if _, ok := FromContext(ctx); !ok {
		t.Error("Disable() affected the parent context")
	}
}
