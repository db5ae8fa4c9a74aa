package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

// Config contains archive configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// RetentionDays is the maximum age of archived events; older rows
	// are pruned. 0 disables age-based pruning. Default: 90.
	RetentionDays int

	// MaxRows caps the archive size; the oldest rows beyond the cap are
	// pruned. 0 disables the cap. Default: 1000000.
	MaxRows int64

	// PruneSchedule is a cron expression for scheduled pruning
	// (e.g. "0 3 * * *" for daily at 3 AM). Empty disables scheduling.
	PruneSchedule string

	// WALMode enables Write-Ahead Logging. Default: true.
	WALMode bool
}

// DefaultConfig returns the default archive configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:          "data/events.db",
		RetentionDays: 90,
		MaxRows:       1_000_000,
		PruneSchedule: "0 3 * * *",
		WALMode:       true,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    timestamp  TIMESTAMP NOT NULL,
    subject_id TEXT,
    policy_id  TEXT,
    source     TEXT,
    decision   TEXT,
    metadata   TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject_id);
`

// Archive is a SQLite-backed event archive.
type Archive struct {
	db     *sql.DB
	config *Config
	logger *slog.Logger
}

// New opens (or creates) the archive database and applies the schema.
func New(config *Config) (*Archive, error) {
	if config == nil {
		config = DefaultConfig()
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, &policy.StorageError{Backend: "sqlite", Op: "open", Cause: err}
	}

	a := &Archive{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "events.archive"),
	}

	if config.WALMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, &policy.StorageError{Backend: "sqlite", Op: "enable_wal", Cause: err}
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &policy.StorageError{Backend: "sqlite", Op: "create_schema", Cause: err}
	}

	a.logger.Info("event archive initialized", "path", config.Path)
	return a, nil
}

// Store persists one event. Duplicate ids are ignored so replaying an
// upload batch is idempotent.
func (a *Archive) Store(ctx context.Context, ev *events.Event) error {
	var decision, metadata []byte
	var err error
	if ev.Decision != nil {
		if decision, err = json.Marshal(ev.Decision); err != nil {
			return &policy.StorageError{Backend: "sqlite", Op: "marshal_decision", Cause: err}
		}
	}
	if ev.Metadata != nil {
		if metadata, err = json.Marshal(ev.Metadata); err != nil {
			return &policy.StorageError{Backend: "sqlite", Op: "marshal_metadata", Cause: err}
		}
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, type, timestamp, subject_id, policy_id, source, decision, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Timestamp, ev.SubjectID, ev.PolicyID,
		string(ev.Source), nullable(decision), nullable(metadata))
	if err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "store", Cause: err}
	}
	return nil
}

// Count returns the number of archived events.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, &policy.StorageError{Backend: "sqlite", Op: "count", Cause: err}
	}
	return n, nil
}

// Prune removes rows older than the retention window, then trims the
// archive to MaxRows by deleting the oldest rows. Returns rows deleted.
func (a *Archive) Prune(ctx context.Context) (int64, error) {
	var deleted int64

	if a.config.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -a.config.RetentionDays)
		res, err := a.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
		if err != nil {
			return deleted, &policy.StorageError{Backend: "sqlite", Op: "prune_age", Cause: err}
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if a.config.MaxRows > 0 {
		res, err := a.db.ExecContext(ctx, `
			DELETE FROM events WHERE id IN (
				SELECT id FROM events ORDER BY timestamp DESC LIMIT -1 OFFSET ?
			)`, a.config.MaxRows)
		if err != nil {
			return deleted, &policy.StorageError{Backend: "sqlite", Op: "prune_rows", Cause: err}
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if deleted > 0 {
		a.logger.Info("archive pruned", "deleted", deleted)
	}
	return deleted, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// EvictionHook adapts the archive to the buffer's eviction callback. The
// write happens inline under the buffer's append lock, which is acceptable
// because SQLite inserts here are local and bounded; failures are logged,
// never propagated into the append path.
func (a *Archive) EvictionHook() func(*events.Event) {
	return func(ev *events.Event) {
		if err := a.Store(context.Background(), ev); err != nil {
			a.logger.Error("failed to archive evicted event", "event_id", ev.ID, "error", err)
		}
	}
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
