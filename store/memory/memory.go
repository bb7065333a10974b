// Package memory implements the store contract in process memory.
// It is the default backend for tests and for runtimes that do not
// need persistence across restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/oxyrun/oxy/store"
)

// Store is an in-memory document store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]map[string]map[string]any
	order   map[string][]string // insertion order of ids per index
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		indexes: make(map[string]map[string]map[string]any),
		order:   make(map[string][]string),
	}
}

// Index upserts doc under (index, id). Re-indexing an existing id
// replaces the document without changing its position.
func (s *Store) Index(_ context.Context, index, id string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.indexes[index]
	if !ok {
		docs = make(map[string]map[string]any)
		s.indexes[index] = docs
	}
	if _, exists := docs[id]; !exists {
		s.order[index] = append(s.order[index], id)
	}
	cp := make(map[string]any, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	docs[id] = cp
	return nil
}

// Search filters the index by the query's term constraints, newest
// (by create_time, then insertion order) first.
func (s *Store) Search(_ context.Context, index string, query map[string]any) (*store.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &store.Result{}
	docs := s.indexes[index]
	if docs == nil {
		return res, nil
	}
	var hits []store.Hit
	for _, id := range s.order[index] {
		doc := docs[id]
		if !store.Matches(doc, query) {
			continue
		}
		cp := make(map[string]any, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		hits = append(hits, store.Hit{ID: id, Source: cp})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return createTime(hits[i].Source) > createTime(hits[j].Source)
	})
	if size := store.Size(query); len(hits) > size {
		hits = hits[:size]
	}
	res.Hits.Hits = hits
	return res, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Count returns the number of documents in index. Test helper.
func (s *Store) Count(index string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indexes[index])
}

func createTime(doc map[string]any) int64 {
	switch v := doc["create_time"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
