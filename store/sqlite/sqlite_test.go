package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oxyrun/oxy/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestIndex_UpsertByCompositeKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Index(ctx, "traces", "t1", map[string]any{"output": "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Index(ctx, "traces", "t1", map[string]any{"output": "second"}); err != nil {
		t.Fatal(err)
	}
	// Same id in another index is a distinct document.
	if err := s.Index(ctx, "nodes", "t1", map[string]any{"output": "other"}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Search(ctx, "traces", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 1 {
		t.Fatalf("traces hits = %d, want 1", got)
	}
	src, _ := res.First()
	if src["output"] != "second" {
		t.Errorf("output = %v, want second", src["output"])
	}
}

func TestSearch_TermFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, d := range []struct {
		id      string
		session string
	}{
		{"h1", "alpha"}, {"h2", "beta"}, {"h3", "alpha"},
	} {
		if err := s.Index(ctx, "history", d.id, map[string]any{"session": d.session, "query": "q-" + d.id}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.Search(ctx, "history", store.Term("session", "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 2 {
		t.Fatalf("hits = %d, want 2", got)
	}
	for _, h := range res.Hits.Hits {
		if h.Source["session"] != "alpha" {
			t.Errorf("hit %s session = %v", h.ID, h.Source["session"])
		}
	}

	// Numeric fields survive the JSON round trip for term matching.
	if err := s.Index(ctx, "history", "h4", map[string]any{"session": "alpha", "turn": 7}); err != nil {
		t.Fatal(err)
	}
	res, err = s.Search(ctx, "history", store.Term("turn", 7))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.First(); !ok {
		t.Error("int term did not match stored numeric field")
	}
}

func TestSearch_SizeBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		id := string(rune('a' + i))
		if err := s.Index(ctx, "messages", id, map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.Search(ctx, "messages", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 10 {
		t.Errorf("default size hits = %d, want 10", got)
	}

	res, err = s.Search(ctx, "messages", map[string]any{"size": 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 3 {
		t.Errorf("size 3 hits = %d, want 3", got)
	}
}

func TestIndex_ConcurrentWritersSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a'+i%8)) + string(rune('a'+i/8))
			errs <- s.Index(ctx, "concurrent", id, map[string]any{"n": i})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent index: %v", err)
		}
	}

	res, err := s.Search(ctx, "concurrent", map[string]any{"size": 100})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(res.Hits.Hits); got != 32 {
		t.Errorf("hits = %d, want 32", got)
	}
}
