package group

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/relkit/internal/keyhash"
	"github.com/electwix/relkit/internal/link"
	"github.com/electwix/relkit/internal/relation"
	"github.com/electwix/relkit/internal/schema"
)

func setup(t *testing.T) *schema.Schema {
	t.Helper()
	ctx := context.Background()
	db, err := relation.Open(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := schema.New(schema.Options{Database: "lab", DB: db})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Declare(ctx, schema.Declaration{Class: "Subject", Definition: "subject_id : int"}); err != nil {
		t.Fatal(err)
	}
	subject, _ := s.Table("Subject")
	rows := []relation.Tuple{{"subject_id": 1}, {"subject_id": 2}, {"subject_id": 3}}
	if err := subject.Insert(ctx, rows, relation.InsertOptions{}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSetFill(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	set, err := DeclareSet(ctx, s, Spec{Class: "SubjectSet", Name: "subjects", Keys: []string{"Subject"}})
	if err != nil {
		t.Fatalf("DeclareSet() error = %v", err)
	}

	subjects := relation.MatchAny(relation.Tuple{"subject_id": 1}, relation.Tuple{"subject_id": 3})
	id, err := set.Fill(ctx, subjects, FillOptions{Note: "first"})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	want := keyhash.Hash(map[int]string{
		0: keyhash.Hash(map[string]any{"subject_id": 1}),
		1: keyhash.Hash(map[string]any{"subject_id": 3}),
	})
	if diff := cmp.Diff(relation.Tuple{"subjects_id": want}, id); diff != "" {
		t.Errorf("Fill() mismatch (-want +got):\n%s", diff)
	}

	again, err := set.Fill(ctx, subjects, FillOptions{Note: "second", Silent: true})
	if err != nil {
		t.Fatalf("second Fill() error = %v", err)
	}
	if diff := cmp.Diff(id, again); diff != "" {
		t.Errorf("second Fill() mismatch (-want +got):\n%s", diff)
	}

	master, _ := set.Master()
	note, _ := set.Note()
	if n, _ := master.Count(ctx); n != 1 {
		t.Errorf("sets = %d, want 1", n)
	}
	if n, _ := note.Count(ctx); n != 2 {
		t.Errorf("notes = %d, want 2", n)
	}

	members, err := set.Members(ctx, master.Restrict(id))
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	ids, err := members.FetchColumn(ctx, "subject_id")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{int64(1), int64(3)}, ids); diff != "" {
		t.Errorf("Members() mismatch (-want +got):\n%s", diff)
	}
}

func TestSetConfirm(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	set, err := DeclareSet(ctx, s, Spec{Class: "SubjectSet", Name: "subjects", Keys: []string{"Subject"}})
	if err != nil {
		t.Fatal(err)
	}

	var prompt string
	_, err = set.Fill(ctx, nil, FillOptions{Confirm: func(p string) bool { prompt = p; return false }})
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("Fill() error = %v, want ErrDeclined", err)
	}
	if prompt != "Insert set with 3 keys?" {
		t.Errorf("prompt = %q", prompt)
	}
	master, _ := set.Master()
	if n, _ := master.Count(ctx); n != 0 {
		t.Errorf("sets = %d after decline, want 0", n)
	}
}

func TestSetFillIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	set, err := DeclareSet(ctx, s, Spec{Class: "SubjectSet", Name: "subjects", Keys: []string{"Subject"}})
	if err != nil {
		t.Fatal(err)
	}

	keys := []relation.Tuple{{"subject_id": 1}}
	broken := func(id relation.Tuple) []relation.Tuple {
		return []relation.Tuple{id.With(relation.Tuple{"bogus": 1})}
	}
	if _, err := set.store(ctx, keys, FillOptions{Silent: true}, broken); err == nil {
		t.Fatal("store() expected error for an invalid member row")
	}
	master, _ := set.Master()
	if n, _ := master.Count(ctx); n != 0 {
		t.Fatalf("sets = %d after failed member insert, want 0", n)
	}

	if _, err := set.Fill(ctx, relation.Match(relation.Tuple{"subject_id": 1}), FillOptions{Silent: true}); err != nil {
		t.Fatalf("Fill() after failed insert error = %v", err)
	}
	if n, _ := master.Count(ctx); n != 1 {
		t.Errorf("sets = %d, want 1", n)
	}
}

func TestSetGetAndMissingMembers(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	set, err := DeclareSet(ctx, s, Spec{Class: "SubjectSet", Name: "subjects", Length: 12, Keys: []string{"Subject"}})
	if err != nil {
		t.Fatal(err)
	}
	pair := relation.MatchAny(relation.Tuple{"subject_id": 1}, relation.Tuple{"subject_id": 2})
	id, err := set.Fill(ctx, pair, FillOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(id["subjects_id"].(string)); got != 12 {
		t.Errorf("id length = %d, want 12", got)
	}
	if _, err := set.Fill(ctx, nil, FillOptions{}); err != nil {
		t.Fatal(err)
	}

	row, err := set.Get(ctx, pair)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := row.FetchKey(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(id, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	_, err = set.Get(ctx, relation.Match(relation.Tuple{"subject_id": 3}))
	if !errors.Is(err, relation.ErrMissing) {
		t.Errorf("Get() error = %v, want ErrMissing", err)
	}

	member, _ := set.Member()
	if _, err := member.Restrict(id.With(relation.Tuple{"subject_id": 2})).Delete(ctx); err != nil {
		t.Fatal(err)
	}
	master, _ := set.Master()
	if _, err := set.Members(ctx, master.Restrict(id)); !errors.Is(err, relation.ErrMissing) {
		t.Errorf("Members() error = %v, want ErrMissing", err)
	}
	if _, err := set.Fill(ctx, pair, FillOptions{}); err == nil {
		t.Error("Fill() over a damaged set expected error")
	}
}

func TestListFill(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	list, err := DeclareList(ctx, s, Spec{Class: "SubjectList", Name: "subjects", Keys: []string{"Subject"}})
	if err != nil {
		t.Fatalf("DeclareList() error = %v", err)
	}

	order := []relation.Restriction{
		relation.Match(relation.Tuple{"subject_id": 3}),
		relation.Match(relation.Tuple{"subject_id": 1}),
		relation.Match(relation.Tuple{"subject_id": 3}),
	}
	id, err := list.Fill(ctx, order, FillOptions{})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	master, _ := list.Master()
	keys, err := list.Keys(ctx, master.Restrict(id))
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []relation.Tuple{{"subject_id": int64(3)}, {"subject_id": int64(1)}, {"subject_id": int64(3)}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}

	reversed, err := list.Fill(ctx, []relation.Restriction{order[1], order[0]}, FillOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if reversed["subjects_id"] == id["subjects_id"] {
		t.Error("lists with different order share an id")
	}

	_, err = list.Fill(ctx, []relation.Restriction{nil}, FillOptions{})
	if !errors.Is(err, relation.ErrRestriction) {
		t.Errorf("Fill() with unrestricted member error = %v, want ErrRestriction", err)
	}
}

func TestLinkSet(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	l, err := link.Declare(ctx, s, link.Spec{Class: "SourceLink", Name: "source", Links: []string{"Subject"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Fill(ctx); err != nil {
		t.Fatal(err)
	}
	set, err := DeclareLinkSet(ctx, s, Spec{Class: "SourceSet", Name: "sources"}, l)
	if err != nil {
		t.Fatalf("DeclareLinkSet() error = %v", err)
	}
	id, err := set.Fill(ctx, nil, FillOptions{})
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	master, _ := set.Master()
	members, err := set.Members(ctx, master.Restrict(id))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := members.Count(ctx); n != 3 {
		t.Errorf("members = %d, want 3", n)
	}

	list, err := DeclareLinkList(ctx, s, Spec{Class: "SourceList", Name: "sources"}, l)
	if err != nil {
		t.Fatalf("DeclareLinkList() error = %v", err)
	}
	srcID := l.ID("Subject", relation.Tuple{"subject_id": 2})
	if _, err := list.Fill(ctx, []relation.Restriction{relation.Match(relation.Tuple{"source_id": srcID})}, FillOptions{}); err != nil {
		t.Errorf("list Fill() error = %v", err)
	}
}
