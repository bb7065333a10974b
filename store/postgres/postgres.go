// Package postgres implements the store contract on PostgreSQL with
// JSONB documents and containment queries.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oxyrun/oxy/store"
)

// Store implements the store contract backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the documents table and the JSONB containment index.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS oxy_documents (
			idx TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			doc JSONB NOT NULL,
			create_time BIGINT NOT NULL,
			PRIMARY KEY (idx, doc_id)
		)`,
		`CREATE INDEX IF NOT EXISTS oxy_documents_doc_gin ON oxy_documents USING GIN (doc jsonb_path_ops)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Index upserts doc under (index, id).
func (s *Store) Index(ctx context.Context, index, id string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: marshal doc: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO oxy_documents (idx, doc_id, doc, create_time)
		VALUES ($1, $2, $3, extract(epoch from now())::bigint)
		ON CONFLICT (idx, doc_id) DO UPDATE SET doc = EXCLUDED.doc`,
		index, id, raw)
	if err != nil {
		return fmt.Errorf("postgres: index %s/%s: %w", index, id, err)
	}
	return nil
}

// Search runs the term constraints as a JSONB containment query so the
// GIN index serves point lookups.
func (s *Store) Search(ctx context.Context, index string, query map[string]any) (*store.Result, error) {
	size := store.Size(query)
	terms, _ := termsOf(query)

	sql := `SELECT doc_id, doc FROM oxy_documents WHERE idx = $1`
	args := []any{index}
	if len(terms) > 0 {
		filter, err := json.Marshal(terms)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal filter: %w", err)
		}
		sql += ` AND doc @> $2`
		args = append(args, filter)
	}
	sql += fmt.Sprintf(` ORDER BY create_time DESC, doc_id DESC LIMIT %d`, size)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search %s: %w", index, err)
	}
	defer rows.Close()

	res := &store.Result{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("postgres: decode %s/%s: %w", index, id, err)
		}
		res.Hits.Hits = append(res.Hits.Hits, store.Hit{ID: id, Source: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return res, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

func termsOf(query map[string]any) (map[string]any, bool) {
	if query == nil {
		return nil, false
	}
	t, ok := query["term"].(map[string]any)
	return t, ok
}
