// Package vector defines the vector-database contract the runtime
// consumes, plus an in-memory implementation with brute-force cosine
// ranking for tests and small deployments.
package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Doc is one stored vector document.
type Doc struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// ScoredDoc is a ranked search result.
type ScoredDoc struct {
	Doc
	Score float32 `json:"score"`
}

// Store is the vector-database contract.
type Store interface {
	// BatchUpsert writes docs into (db, space) and returns their ids in
	// input order. Docs without an id are assigned one.
	BatchUpsert(ctx context.Context, db, space string, docs []Doc) ([]string, error)
	// BatchGetByID fetches docs by id, preserving input order; missing
	// ids yield nil entries. withEmbedding controls embedding payload.
	BatchGetByID(ctx context.Context, db, space string, ids []string, withEmbedding bool) ([]*Doc, error)
	// SearchByVector ranks documents by cosine similarity for each
	// query vector, restricted by the field-equality filter.
	SearchByVector(ctx context.Context, db, space string, queries [][]float32, filter map[string]any, topK int) ([][]ScoredDoc, error)
}

// InMemory implements Store with in-process brute-force search.
type InMemory struct {
	mu     sync.RWMutex
	spaces map[string]map[string]Doc // "db/space" -> id -> doc
	nextID int
}

var _ Store = (*InMemory)(nil)

// New creates an empty in-memory vector store.
func New() *InMemory {
	return &InMemory{spaces: make(map[string]map[string]Doc)}
}

func spaceKey(db, space string) string { return db + "/" + space }

// BatchUpsert implements Store.
func (s *InMemory) BatchUpsert(_ context.Context, db, space string, docs []Doc) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := spaceKey(db, space)
	bucket, ok := s.spaces[key]
	if !ok {
		bucket = make(map[string]Doc)
		s.spaces[key] = bucket
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			s.nextID++
			d.ID = fmt.Sprintf("%s-%d", space, s.nextID)
		}
		bucket[d.ID] = d
		ids[i] = d.ID
	}
	return ids, nil
}

// BatchGetByID implements Store. Order is preserved; missing ids
// produce nil entries.
func (s *InMemory) BatchGetByID(_ context.Context, db, space string, ids []string, withEmbedding bool) ([]*Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.spaces[spaceKey(db, space)]
	out := make([]*Doc, len(ids))
	for i, id := range ids {
		d, ok := bucket[id]
		if !ok {
			continue
		}
		cp := d
		if !withEmbedding {
			cp.Embedding = nil
		}
		out[i] = &cp
	}
	return out, nil
}

// SearchByVector implements Store with brute-force cosine similarity.
func (s *InMemory) SearchByVector(_ context.Context, db, space string, queries [][]float32, filter map[string]any, topK int) ([][]ScoredDoc, error) {
	if topK <= 0 {
		topK = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.spaces[spaceKey(db, space)]

	out := make([][]ScoredDoc, len(queries))
	for qi, q := range queries {
		var ranked []ScoredDoc
		for _, d := range bucket {
			if !matchesFilter(d.Fields, filter) {
				continue
			}
			if len(d.Embedding) == 0 {
				continue
			}
			ranked = append(ranked, ScoredDoc{Doc: d, Score: cosine(q, d.Embedding)})
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		if len(ranked) > topK {
			ranked = ranked[:topK]
		}
		out[qi] = ranked
	}
	return out, nil
}

func matchesFilter(fields, filter map[string]any) bool {
	for k, want := range filter {
		if fields[k] != want {
			return false
		}
	}
	return true
}

// cosine computes cosine similarity between two vectors. Mismatched
// lengths score zero.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
