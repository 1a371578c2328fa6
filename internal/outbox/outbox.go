// Package outbox implements a durable, append-and-scan local log of
// events awaiting delivery to the broker. It is the single point of
// coordination between the evaluation scheduler (the writer) and the
// relay (the reader/mutator).
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vinibressanini/idab-processor/internal/apperrors"
)

// Status is one of the four terminal/non-terminal states of an OutboxRecord.
type Status string

const (
	StatusPending           Status = "pending"
	StatusFailed            Status = "failed"
	StatusPublished         Status = "published"
	StatusPermanentlyFailed Status = "permanently_failed"
)

const maxLastErrorRunes = 500

const schema = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_name TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	published_at INTEGER,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	next_retry_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_outbox_status_retry ON outbox_events(status, next_retry_at);
`

// Record is one persisted row.
type Record struct {
	ID          int64
	EventName   string
	Payload     json.RawMessage
	CreatedAt   int64
	PublishedAt sql.NullInt64
	Attempts    int
	LastError   string
	Status      Status
	NextRetryAt int64
}

// Store is the embedded single-file durable store (path from
// OUTBOX_DB_PATH, default outbox.db). Every mutating method commits before
// returning, so a crash never loses an acknowledged write.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path and applies
// the schema. A single *sql.DB is shared by both writers (scheduler) and
// readers (relay); SQLite's own locking serializes their concurrent
// mutations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindOutbox, "open outbox database", err)
	}
	db.SetMaxOpenConns(1) // single-writer embedded store; avoid SQLITE_BUSY under WAL

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindOutbox, "enable WAL mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindOutbox, "apply outbox schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store inserts a new pending row and returns its assigned id.
func (s *Store) Store(ctx context.Context, eventName string, payload json.RawMessage, createdAt int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_events (event_name, payload_json, created_at) VALUES (?, ?, ?)`,
		eventName, string(payload), createdAt,
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindOutbox, "insert outbox event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindOutbox, "read inserted outbox id", err)
	}
	return id, nil
}

// FetchReady returns up to limit rows with status in {pending, failed} and
// next_retry_at <= now, ordered by id ascending. limit <= 0 returns an
// empty slice without touching the store.
func (s *Store) FetchReady(ctx context.Context, limit int, now int64) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_name, payload_json, created_at, published_at, attempts, last_error, status, next_retry_at
		 FROM outbox_events
		 WHERE status IN ('pending', 'failed') AND next_retry_at <= ?
		 ORDER BY id ASC
		 LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindOutbox, "fetch ready outbox events", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload string
		var lastError sql.NullString
		if err := rows.Scan(&r.ID, &r.EventName, &payload, &r.CreatedAt, &r.PublishedAt,
			&r.Attempts, &lastError, &r.Status, &r.NextRetryAt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindOutbox, "scan outbox row", err)
		}
		r.Payload = json.RawMessage(payload)
		r.LastError = lastError.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished transitions id to the terminal published state.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = ?, published_at = ?, last_error = NULL WHERE id = ?`,
		StatusPublished, time.Now().Unix(), id,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindOutbox, "mark outbox event published", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt. If currentAttempts+1
// reaches maxRetries the row becomes permanently_failed (terminal);
// otherwise it becomes failed with an exponential-backoff-plus-jitter
// next_retry_at.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string, currentAttempts, maxRetries int, baseDelaySeconds int64) error {
	newAttempts := currentAttempts + 1
	truncated := truncateRunes(errMsg, maxLastErrorRunes)

	if newAttempts >= maxRetries {
		_, err := s.db.ExecContext(ctx,
			`UPDATE outbox_events SET attempts = ?, last_error = ?, status = ? WHERE id = ?`,
			newAttempts, truncated, StatusPermanentlyFailed, id,
		)
		if err != nil {
			return apperrors.Wrap(apperrors.KindOutbox, "mark outbox event permanently failed", err)
		}
		return nil
	}

	delay := float64(baseDelaySeconds) * float64(int64(1)<<uint(currentAttempts))
	jitter := rand.Float64() * 0.2 * delay
	nextRetryAt := time.Now().Unix() + int64(delay+jitter)

	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = ?, last_error = ?, status = ?, next_retry_at = ? WHERE id = ?`,
		newAttempts, truncated, StatusFailed, nextRetryAt, id,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.KindOutbox, "mark outbox event failed", err)
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
