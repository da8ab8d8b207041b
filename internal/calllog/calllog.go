// Package calllog persists a record of every model invocation to a
// SQLite database, including stubbed calls, so a run can be audited
// after the fact.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	source_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	unit INTEGER NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	mode TEXT NOT NULL,
	prompt_sha256 TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL,
	stub INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_source ON calls(source_id);
`

// Entry is one logged model invocation.
type Entry struct {
	ID               string
	CreatedAt        time.Time
	SourceID         string
	Phase            string
	Unit             int
	Provider         string
	Model            string
	Mode             string
	PromptSHA256     string
	Latency          time.Duration
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	Success          bool
	Error            string
	Stub             bool
}

// Store is a SQLite-backed call log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the call log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening call log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing call log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts an entry. A zero ID or CreatedAt is filled in.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (
			id, created_at, source_id, phase, unit, provider, model, mode,
			prompt_sha256, latency_ms, prompt_tokens, completion_tokens,
			cost_usd, success, error, stub
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.Format(time.RFC3339Nano), e.SourceID, e.Phase,
		e.Unit, e.Provider, e.Model, e.Mode, e.PromptSHA256,
		e.Latency.Milliseconds(), e.PromptTokens, e.CompletionTokens,
		e.CostUSD, boolToInt(e.Success), e.Error, boolToInt(e.Stub),
	)
	if err != nil {
		return fmt.Errorf("recording call: %w", err)
	}
	return nil
}

// ListBySource returns entries for one source, oldest first.
func (s *Store) ListBySource(ctx context.Context, sourceID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source_id, phase, unit, provider, model, mode,
			prompt_sha256, latency_ms, prompt_tokens, completion_tokens,
			cost_usd, success, error, stub
		FROM calls WHERE source_id = ? ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List returns the most recent entries across all sources, newest
// first, up to limit. A limit of zero means no cap.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `
		SELECT id, created_at, source_id, phase, unit, provider, model, mode,
			prompt_sha256, latency_ms, prompt_tokens, completion_tokens,
			cost_usd, success, error, stub
		FROM calls ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Summary aggregates calls for one source. An empty sourceID
// aggregates everything.
type Summary struct {
	Calls            int64
	Succeeded        int64
	Failed           int64
	Stubbed          int64
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
}

// Summarize computes aggregate call statistics.
func (s *Store) Summarize(ctx context.Context, sourceID string) (*Summary, error) {
	q := `
		SELECT COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(1 - success), 0),
			COALESCE(SUM(stub), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM calls`
	args := []any{}
	if sourceID != "" {
		q += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	var sum Summary
	err := s.db.QueryRowContext(ctx, q, args...).Scan(
		&sum.Calls, &sum.Succeeded, &sum.Failed, &sum.Stubbed,
		&sum.PromptTokens, &sum.CompletionTokens, &sum.CostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing calls: %w", err)
	}
	return &sum, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		var latencyMS, success, stub int64
		if err := rows.Scan(
			&e.ID, &created, &e.SourceID, &e.Phase, &e.Unit, &e.Provider,
			&e.Model, &e.Mode, &e.PromptSHA256, &latencyMS,
			&e.PromptTokens, &e.CompletionTokens, &e.CostUSD,
			&success, &e.Error, &stub,
		); err != nil {
			return nil, fmt.Errorf("scanning call row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parsing call timestamp: %w", err)
		}
		e.CreatedAt = t
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		e.Success = success != 0
		e.Stub = stub != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
