// Package store defines the document-store contract the runtime
// consumes for traces, session history, and messages. The runtime only
// needs idempotent upsert by id and point lookups by field equality;
// results keep the familiar hits.hits[]._source shape so an existing
// Elasticsearch-backed deployment interoperates without translation.
package store

import "context"

// Store is the narrow persistence contract. Implementations must make
// Index an idempotent upsert: indexing the same (index, id, doc) twice
// leaves the store in the same observable state as once.
type Store interface {
	// Index upserts doc under (index, id).
	Index(ctx context.Context, index, id string, doc map[string]any) error
	// Search runs query against index. The supported query form is
	//
	//	{"term": {"<field>": <value>}, "size": <n>}
	//
	// where "term" is top-level field equality and "size" bounds the
	// result count (default 10). An empty query matches all documents.
	Search(ctx context.Context, index string, query map[string]any) (*Result, error)
	Close() error
}

// Result mirrors the nested hits structure of the upstream store.
type Result struct {
	Hits Hits `json:"hits"`
}

// Hits is the result envelope.
type Hits struct {
	Hits []Hit `json:"hits"`
}

// Hit is one matched document.
type Hit struct {
	ID     string         `json:"_id"`
	Source map[string]any `json:"_source"`
}

// First returns the first hit's source, or false when the result is
// empty. Point lookups use it.
func (r *Result) First() (map[string]any, bool) {
	if r == nil || len(r.Hits.Hits) == 0 {
		return nil, false
	}
	return r.Hits.Hits[0].Source, true
}

// Term builds the equality query used for point lookups.
func Term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

// querySpec extracts the term constraints and size from a query map.
// Shared by implementations that filter in-process.
func querySpec(query map[string]any) (terms map[string]any, size int) {
	size = 10
	if query == nil {
		return nil, size
	}
	if s, ok := query["size"]; ok {
		switch v := s.(type) {
		case int:
			size = v
		case int64:
			size = int(v)
		case float64:
			size = int(v)
		}
	}
	if t, ok := query["term"].(map[string]any); ok {
		terms = t
	}
	return terms, size
}

// Matches reports whether doc satisfies every term constraint of
// query. Exposed for implementations that filter in-process.
func Matches(doc, query map[string]any) bool {
	terms, _ := querySpec(query)
	for field, want := range terms {
		got, ok := doc[field]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// Size returns the bounded result count for query.
func Size(query map[string]any) int {
	_, size := querySpec(query)
	return size
}

// looseEqual compares values across the numeric widenings JSON
// round-trips introduce (int stored, float64 read back).
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
