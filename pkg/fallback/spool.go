package fallback

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

// Spool persists events recorded while disconnected so they survive a
// process restart at the edge. It uses the pure-Go SQLite driver: edge
// enforcement points cross-compile without cgo.
type Spool struct {
	db *sql.DB
}

const spoolSchema = `
CREATE TABLE IF NOT EXISTS spooled_events (
    id        TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    payload   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spool_timestamp ON spooled_events(timestamp);
`

// OpenSpool opens (or creates) the spool database at path.
func OpenSpool(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &policy.StorageError{Backend: "sqlite", Op: "open", Cause: err}
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, &policy.StorageError{Backend: "sqlite", Op: "enable_wal", Cause: err}
	}
	if _, err := db.Exec(spoolSchema); err != nil {
		db.Close()
		return nil, &policy.StorageError{Backend: "sqlite", Op: "create_schema", Cause: err}
	}
	return &Spool{db: db}, nil
}

// Add persists one event. Re-adding the same event id is a no-op.
func (s *Spool) Add(ctx context.Context, ev *events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "marshal_event", Cause: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO spooled_events (id, timestamp, payload)
		VALUES (?, ?, ?)`,
		ev.ID, ev.Timestamp, string(payload))
	if err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "spool_add", Cause: err}
	}
	return nil
}

// Pending returns up to limit spooled events, oldest first, so uploads
// replay in timestamp order.
func (s *Spool) Pending(ctx context.Context, limit int) ([]*events.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM spooled_events ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, &policy.StorageError{Backend: "sqlite", Op: "spool_pending", Cause: err}
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &policy.StorageError{Backend: "sqlite", Op: "spool_scan", Cause: err}
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, &policy.StorageError{Backend: "sqlite", Op: "spool_decode", Cause: err}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Remove deletes events by id after a confirmed upload.
func (s *Spool) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "spool_remove", Cause: err}
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM spooled_events WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return &policy.StorageError{Backend: "sqlite", Op: "spool_remove", Cause: err}
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return &policy.StorageError{Backend: "sqlite", Op: "spool_remove", Cause: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "spool_remove", Cause: err}
	}
	return nil
}

// Count returns the number of spooled events.
func (s *Spool) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spooled_events`).Scan(&n); err != nil {
		return 0, &policy.StorageError{Backend: "sqlite", Op: "spool_count", Cause: err}
	}
	return n, nil
}

// Close releases the database handle.
func (s *Spool) Close() error { return s.db.Close() }
