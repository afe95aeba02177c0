// Package audit persists one row per sanitize run, so "what was rewritten
// and when" is answerable without trawling logs.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrub_audit (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  selected_index INTEGER NOT NULL DEFAULT -1,
  selected_role TEXT NOT NULL DEFAULT '',
  rules TEXT NOT NULL DEFAULT '',
  bytes_before INTEGER NOT NULL DEFAULT 0,
  bytes_after INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_scrub_audit_run_id ON scrub_audit (run_id);
`

// Entry is one sanitize run.
type Entry struct {
	RunID         string    `json:"run_id"`
	Source        string    `json:"source,omitempty"`
	SelectedIndex int       `json:"selected_index"`
	SelectedRole  string    `json:"selected_role,omitempty"`
	Rules         []string  `json:"rules,omitempty"`
	BytesBefore   int       `json:"bytes_before"`
	BytesAfter    int       `json:"bytes_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recorder writes audit rows to Postgres.
type Recorder struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// Open connects to the database named by dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Recorder, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return &Recorder{db: db}, nil
}

func (r *Recorder) ensureSchema(ctx context.Context) error {
	r.schemaOnce.Do(func() {
		_, r.schemaErr = r.db.ExecContext(ctx, schema)
	})
	return r.schemaErr
}

// Record inserts one audit row. created_at is stamped by the database.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if err := r.ensureSchema(ctx); err != nil {
		return fmt.Errorf("audit: schema: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scrub_audit (run_id, source, selected_index, selected_role, rules, bytes_before, bytes_after)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RunID, entry.Source, entry.SelectedIndex, entry.SelectedRole,
		strings.Join(entry.Rules, ","), entry.BytesBefore, entry.BytesAfter)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("audit: schema: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, source, selected_index, selected_role, rules, bytes_before, bytes_after, created_at
FROM scrub_audit
ORDER BY id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var joined string
		if err := rows.Scan(&entry.RunID, &entry.Source, &entry.SelectedIndex, &entry.SelectedRole,
			&joined, &entry.BytesBefore, &entry.BytesAfter, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if joined != "" {
			entry.Rules = strings.Split(joined, ",")
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (r *Recorder) Close() error {
	return r.db.Close()
}
