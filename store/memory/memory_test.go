package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/oxyrun/oxy/store"
)

func TestIndex_UpsertIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := map[string]any{"trace_id": "t1", "output": "first"}
	if err := s.Index(ctx, "traces", "t1", doc); err != nil {
		t.Fatal(err)
	}
	if err := s.Index(ctx, "traces", "t1", doc); err != nil {
		t.Fatal(err)
	}
	if got := s.Count("traces"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}

	// Re-indexing with a changed doc replaces, never duplicates.
	if err := s.Index(ctx, "traces", "t1", map[string]any{"trace_id": "t1", "output": "second"}); err != nil {
		t.Fatal(err)
	}
	res, err := s.Search(ctx, "traces", store.Term("trace_id", "t1"))
	if err != nil {
		t.Fatal(err)
	}
	src, ok := res.First()
	if !ok {
		t.Fatal("no hit")
	}
	if src["output"] != "second" {
		t.Errorf("output = %v, want second", src["output"])
	}
	if got := s.Count("traces"); got != 1 {
		t.Errorf("count after replace = %d, want 1", got)
	}
}

func TestSearch_TermFilterAndSize(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, sess := range []string{"a", "b", "a", "a"} {
		doc := map[string]any{"session": sess, "create_time": int64(i)}
		if err := s.Index(ctx, "history", fmt.Sprintf("doc-%d", i), doc); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.Search(ctx, "history", store.Term("session", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
	// Newest first by create_time.
	if ct := res.Hits.Hits[0].Source["create_time"]; ct != int64(3) {
		t.Errorf("first hit create_time = %v, want 3", ct)
	}

	query := store.Term("session", "a")
	query["size"] = 2
	res, err = s.Search(ctx, "history", query)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 2 {
		t.Errorf("bounded hits = %d, want 2", got)
	}
}

func TestSearch_MissingIndexIsEmptyNotError(t *testing.T) {
	s := New()
	res, err := s.Search(context.Background(), "nothing_here", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.First(); ok {
		t.Error("expected empty result")
	}
}

func TestIndex_StoredDocIsDetached(t *testing.T) {
	s := New()
	ctx := context.Background()
	doc := map[string]any{"k": "original"}
	if err := s.Index(ctx, "idx", "1", doc); err != nil {
		t.Fatal(err)
	}
	doc["k"] = "mutated"

	res, err := s.Search(ctx, "idx", nil)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := res.First()
	if src["k"] != "original" {
		t.Errorf("stored doc aliased caller memory: %v", src["k"])
	}
	// Mutating a returned hit must not write back either.
	src["k"] = "poked"
	res, _ = s.Search(ctx, "idx", nil)
	src2, _ := res.First()
	if src2["k"] != "original" {
		t.Errorf("returned doc aliased store memory: %v", src2["k"])
	}
}

func TestMatches_NumericWidening(t *testing.T) {
	doc := map[string]any{"create_time": float64(42)}
	if !store.Matches(doc, store.Term("create_time", int64(42))) {
		t.Error("int64 term should match float64 field")
	}
	if store.Matches(doc, store.Term("create_time", int64(43))) {
		t.Error("mismatched value matched")
	}
}
