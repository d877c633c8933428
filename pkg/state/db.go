package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/shortsforge/shortsforge/pkg/artifact"
)

// ErrNotFound is returned when an item does not exist in the local store.
var ErrNotFound = errors.New("item not found")

// DB is the local item store: a single-file sqlite database under
// state/items.db. It is the system of record between dashboard syncs.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the item database. WAL mode plus a
// busy timeout gives us the single-writer discipline the store needs.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening item store: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &DB{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *DB) Close() error { return s.db.Close() }

func (s *DB) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	concept_text    TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL,
	failed_stage    TEXT NOT NULL DEFAULT '',
	retry_after     INTEGER NOT NULL DEFAULT 0,
	stage_attempts  TEXT NOT NULL DEFAULT '{}',
	artifacts       TEXT NOT NULL DEFAULT '[]',
	last_error      TEXT NOT NULL DEFAULT '',
	publication_url TEXT NOT NULL DEFAULT '',
	row_index       INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_state ON items (state);
CREATE INDEX IF NOT EXISTS idx_items_updated ON items (updated_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating item schema: %w", err)
	}
	return nil
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Put upserts an item.
func (s *DB) Put(ctx context.Context, it *Item) error {
	attempts := it.StageAttempts
	if attempts == nil {
		attempts = map[string]int{}
	}
	arts := it.Artifacts
	if arts == nil {
		arts = []artifact.Artifact{}
	}
	lastErr := ""
	if it.LastError != nil {
		lastErr = marshalJSON(it.LastError)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO items (id, source, title, concept_text, state, failed_stage, retry_after,
	stage_attempts, artifacts, last_error, publication_url, row_index,
	created_at, updated_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source = excluded.source,
	title = excluded.title,
	concept_text = excluded.concept_text,
	state = excluded.state,
	failed_stage = excluded.failed_stage,
	retry_after = excluded.retry_after,
	stage_attempts = excluded.stage_attempts,
	artifacts = excluded.artifacts,
	last_error = excluded.last_error,
	publication_url = excluded.publication_url,
	row_index = excluded.row_index,
	updated_at = excluded.updated_at,
	finished_at = excluded.finished_at`,
		it.ID, string(it.Source), it.Title, it.ConceptText, string(it.State),
		it.FailedStage, unixOrZero(it.RetryAfter),
		marshalJSON(attempts), marshalJSON(arts), lastErr,
		it.PublicationURL, it.RowIndex,
		it.CreatedAt.Unix(), it.UpdatedAt.Unix(), unixOrZero(it.FinishedAt))
	if err != nil {
		return fmt.Errorf("storing item %s: %w", it.ID, err)
	}
	return nil
}

// Get fetches one item.
func (s *DB) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// List returns all items, oldest update first.
func (s *DB) List(ctx context.Context) ([]*Item, error) {
	return s.query(ctx, selectCols+` ORDER BY updated_at ASC`)
}

// ListByState returns items in the given states, oldest update first
// (FIFO fairness for the scheduler).
func (s *DB) ListByState(ctx context.Context, states ...State) ([]*Item, error) {
	if len(states) == 0 {
		return nil, nil
	}
	q := selectCols + ` WHERE state IN (?` // at least one
	args := []any{string(states[0])}
	for _, st := range states[1:] {
		q += `, ?`
		args = append(args, string(st))
	}
	q += `) ORDER BY updated_at ASC`
	return s.query(ctx, q, args...)
}

// RetryableDue returns retryable items whose back-off has elapsed.
func (s *DB) RetryableDue(ctx context.Context, now time.Time) ([]*Item, error) {
	return s.query(ctx,
		selectCols+` WHERE state = ? AND retry_after <= ? ORDER BY updated_at ASC`,
		string(StateRetryableError), now.Unix())
}

// TerminalItems implements artifact.TerminalLister for retention GC.
func (s *DB) TerminalItems(ctx context.Context) ([]artifact.TerminalItem, error) {
	items, err := s.query(ctx, selectCols+` WHERE state IN (?, ?)`,
		string(StatePublished), string(StateFailed))
	if err != nil {
		return nil, err
	}
	out := make([]artifact.TerminalItem, 0, len(items))
	for _, it := range items {
		out = append(out, artifact.TerminalItem{ID: it.ID, FinishedAt: it.FinishedAt})
	}
	return out, nil
}

const selectCols = `
SELECT id, source, title, concept_text, state, failed_stage, retry_after,
	stage_attempts, artifacts, last_error, publication_url, row_index,
	created_at, updated_at, finished_at
FROM items`

func (s *DB) query(ctx context.Context, q string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()
	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		it                                           Item
		source, state, attempts, arts, lastErr       string
		retryAfter, createdAt, updatedAt, finishedAt int64
	)
	err := row.Scan(&it.ID, &source, &it.Title, &it.ConceptText, &state,
		&it.FailedStage, &retryAfter, &attempts, &arts, &lastErr,
		&it.PublicationURL, &it.RowIndex, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	it.Source = Source(source)
	it.State = State(state)
	it.RetryAfter = timeOrZero(retryAfter)
	it.CreatedAt = time.Unix(createdAt, 0)
	it.UpdatedAt = time.Unix(updatedAt, 0)
	it.FinishedAt = timeOrZero(finishedAt)
	if err := json.Unmarshal([]byte(attempts), &it.StageAttempts); err != nil {
		return nil, fmt.Errorf("decoding stage_attempts for %s: %w", it.ID, err)
	}
	if err := json.Unmarshal([]byte(arts), &it.Artifacts); err != nil {
		return nil, fmt.Errorf("decoding artifacts for %s: %w", it.ID, err)
	}
	if lastErr != "" {
		it.LastError = &ErrorInfo{}
		if err := json.Unmarshal([]byte(lastErr), it.LastError); err != nil {
			return nil, fmt.Errorf("decoding last_error for %s: %w", it.ID, err)
		}
	}
	return &it, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
