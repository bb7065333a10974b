// Package sqlite implements the store contract using pure-Go SQLite.
// Documents are kept as JSON text keyed by (index, id); term queries
// are filtered in-process after an index scan. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxyrun/oxy/store"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the
// store emits debug logs for every operation including timing and row
// counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements the store contract backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection pool with SetMaxOpenConns(1) so all
// goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors from concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the documents table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS oxy_documents (
		idx TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		doc TEXT NOT NULL,
		create_time INTEGER NOT NULL,
		PRIMARY KEY (idx, doc_id)
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Index upserts doc under (index, id).
func (s *Store) Index(ctx context.Context, index, id string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlite: marshal doc: %w", err)
	}
	start := time.Now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO oxy_documents (idx, doc_id, doc, create_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (idx, doc_id) DO UPDATE SET doc = excluded.doc`,
		index, id, string(raw), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: index %s/%s: %w", index, id, err)
	}
	s.logger.Debug("sqlite: indexed", "index", index, "id", id, "took", time.Since(start))
	return nil
}

// Search scans the index and filters term constraints in-process,
// newest first.
func (s *Store) Search(ctx context.Context, index string, query map[string]any) (*store.Result, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, doc FROM oxy_documents WHERE idx = ? ORDER BY create_time DESC, doc_id DESC`, index)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %s: %w", index, err)
	}
	defer rows.Close()

	size := store.Size(query)
	res := &store.Result{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.Warn("sqlite: skipping malformed document", "index", index, "id", id)
			continue
		}
		if !store.Matches(doc, query) {
			continue
		}
		res.Hits.Hits = append(res.Hits.Hits, store.Hit{ID: id, Source: doc})
		if len(res.Hits.Hits) >= size {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	s.logger.Debug("sqlite: search done", "index", index, "hits", len(res.Hits.Hits), "took", time.Since(start))
	return res, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
