package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fedlearn-hq/arbiter/pkg/policy"
)

// SQLiteConfig contains configuration for the SQLite persister.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true.
	WALMode bool

	// BusyTimeout is the wait when the database is locked.
	// Default: 5s.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default persister configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/policies.db",
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

const policySchema = `
-- Authoritative policy sets, one row per set kind.
-- kind "current" is overwritten on every mutation; kind "backup" is the
-- immutable recovery set written at first load.
CREATE TABLE IF NOT EXISTS policy_sets (
    kind        TEXT PRIMARY KEY,
    version     INTEGER NOT NULL,
    definitions TEXT NOT NULL,
    saved_at    TIMESTAMP NOT NULL
);
`

// SQLitePersister stores the definition set as a JSON document collection
// in SQLite.
type SQLitePersister struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLitePersister opens (or creates) the policy database and applies
// the schema.
func NewSQLitePersister(config *SQLiteConfig) (*SQLitePersister, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, &policy.StorageError{Backend: "sqlite", Op: "open", Cause: err}
	}

	p := &SQLitePersister{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "policy.store.sqlite"),
	}
	if err := p.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	p.logger.Info("policy persistence initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return p, nil
}

func (p *SQLitePersister) initialize() error {
	if p.config.WALMode {
		if _, err := p.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return &policy.StorageError{Backend: "sqlite", Op: "enable_wal", Cause: err}
		}
	}
	if _, err := p.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", p.config.BusyTimeout.Milliseconds())); err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "set_busy_timeout", Cause: err}
	}
	if _, err := p.db.Exec(policySchema); err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "create_schema", Cause: err}
	}
	return nil
}

// Save persists the current definition set at the given version.
func (p *SQLitePersister) Save(ctx context.Context, version uint64, defs []*policy.Definition) error {
	return p.saveSet(ctx, "current", version, defs)
}

// SaveBackup persists the immutable recovery set.
func (p *SQLitePersister) SaveBackup(ctx context.Context, defs []*policy.Definition) error {
	return p.saveSet(ctx, "backup", 0, defs)
}

func (p *SQLitePersister) saveSet(ctx context.Context, kind string, version uint64, defs []*policy.Definition) error {
	data, err := json.Marshal(defs)
	if err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "marshal", Cause: err}
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO policy_sets (kind, version, definitions, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			version = excluded.version,
			definitions = excluded.definitions,
			saved_at = excluded.saved_at`,
		kind, version, string(data), time.Now().UTC())
	if err != nil {
		return &policy.StorageError{Backend: "sqlite", Op: "save_" + kind, Cause: err}
	}
	return nil
}

// Load returns the last persisted current set and its version. An empty
// database yields version 0 and no definitions, not an error.
func (p *SQLitePersister) Load(ctx context.Context) (uint64, []*policy.Definition, error) {
	return p.loadSet(ctx, "current")
}

// LoadBackup returns the immutable recovery set.
func (p *SQLitePersister) LoadBackup(ctx context.Context) ([]*policy.Definition, error) {
	_, defs, err := p.loadSet(ctx, "backup")
	return defs, err
}

func (p *SQLitePersister) loadSet(ctx context.Context, kind string) (uint64, []*policy.Definition, error) {
	var version uint64
	var data string
	err := p.db.QueryRowContext(ctx,
		`SELECT version, definitions FROM policy_sets WHERE kind = ?`, kind).
		Scan(&version, &data)
	if err == sql.ErrNoRows {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, &policy.StorageError{Backend: "sqlite", Op: "load_" + kind, Cause: err}
	}

	var defs []*policy.Definition
	if err := json.Unmarshal([]byte(data), &defs); err != nil {
		return 0, nil, &policy.StorageError{Backend: "sqlite", Op: "unmarshal", Cause: err}
	}
	return version, defs, nil
}

// Close releases the database handle.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
