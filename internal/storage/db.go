package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// defaultBusyTimeout is how long SQLite waits on a locked database
	// before giving up with a busy error.
	defaultBusyTimeout = 5 * time.Second

	// defaultCheckpointInterval is how often the WAL file is checkpointed
	// to keep it from growing without bound on a long-running server.
	defaultCheckpointInterval = 5 * time.Minute
)

// schemaVersion is the newest migration this binary knows how to apply.
const schemaVersion = 2

// ErrSchemaVersionTooNew is returned when the database schema version
// exceeds the version supported by this code. This prevents data
// corruption from running old code against a newer schema.
var ErrSchemaVersionTooNew = errors.New("database schema version is newer than supported; upgrade typerank")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	stopCh             chan struct{} // signals background goroutines to stop
	stoppedCh          chan struct{} // signals background goroutines have stopped
	closeOnce          sync.Once     // ensures Close() is idempotent
	closeErr           error         // stores the error from Close()
}

// Option adjusts store tuning at construction.
type Option func(*storeOptions)

type storeOptions struct {
	busyTimeout        time.Duration
	checkpointInterval time.Duration
}

// WithBusyTimeout sets how long SQLite waits on a locked database before
// giving up with a busy error.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithCheckpointInterval sets how often the WAL file is truncated back
// into the main database file.
func WithCheckpointInterval(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.checkpointInterval = d
		}
	}
}

// DefaultDBPath returns the default database path (~/.typerank/typerank.db).
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".typerank", "typerank.db"), nil
}

// NewSQLiteStore opens (creating if needed) the database at dbPath, or at
// the default path when dbPath is empty.
//
// The store runs with a single writer connection: WAL mode plus
// max-one-open-connection serializes every transaction, which is what the
// session core's atomicity guarantees lean on. Transactions take the write
// lock up front (_txlock=immediate) so they never hit a mid-transaction
// busy upgrade.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	options := storeOptions{
		busyTimeout:        defaultBusyTimeout,
		checkpointInterval: defaultCheckpointInterval,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if dbPath == "" {
		var err error
		dbPath, err = DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", dbPath, options.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{
		db:                 db,
		checkpointInterval: options.checkpointInterval,
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
	}

	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	go store.walCheckpointLoop()

	return store, nil
}

// Close closes the database connection.
// It is safe to call Close multiple times.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			<-s.stoppedCh
		}

		if s.db != nil {
			// Final checkpoint before closing to merge WAL into main db
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

// DB returns the underlying database connection for advanced use cases.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. The request context's deadline propagates into
// every statement, so an expired request aborts cleanly with no partial
// write.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// walCheckpointLoop periodically checkpoints the WAL file to prevent
// unbounded growth while the server runs.
func (s *SQLiteStore) walCheckpointLoop() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			// TRUNCATE mode: checkpoint and truncate WAL to zero size
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				slog.Warn("WAL checkpoint failed", "error", err)
			}
		}
	}
}

// migrate runs database migrations to ensure the schema is up to date.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	currentVersion := 0
	row := s.db.QueryRowContext(ctx, `
		SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1
	`)
	if err := row.Scan(&currentVersion); err != nil {
		if err == sql.ErrNoRows || isTableNotFoundError(err) {
			currentVersion = 0
		} else {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	// Refuse to run against a schema from a newer binary.
	if currentVersion > schemaVersion {
		return fmt.Errorf("%w: database version %d, supported version %d",
			ErrSchemaVersionTooNew, currentVersion, schemaVersion)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
		{version: 2, sql: migrationV2},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms)
			VALUES (?, ?)
		`, m.version, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// isTableNotFoundError checks if the error indicates a missing table.
func isTableNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "no such table") ||
		strings.Contains(err.Error(), "does not exist")
}

// isDuplicateKeyError checks if the error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key")
}

// isForeignKeyError checks if the error is a foreign key violation.
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// migrationV1 creates the contest schema.
const migrationV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
);

-- Accounts
CREATE TABLE IF NOT EXISTS users (
  user_id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user','admin')),
  created_at_unix_ms INTEGER NOT NULL
);

-- Contests
CREATE TABLE IF NOT EXISTS contests (
  contest_id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  visibility TEXT NOT NULL DEFAULT 'public' CHECK (visibility IN ('public','private')),
  join_code TEXT,
  starts_at_unix_ms INTEGER NOT NULL,
  ends_at_unix_ms INTEGER NOT NULL,
  timezone TEXT NOT NULL DEFAULT 'UTC',
  time_limit_sec INTEGER NOT NULL CHECK (time_limit_sec BETWEEN 10 AND 600),
  max_attempts INTEGER NOT NULL DEFAULT 3 CHECK (max_attempts >= 1),
  allow_backspace INTEGER NOT NULL DEFAULT 0,
  leaderboard_visibility TEXT NOT NULL DEFAULT 'during'
    CHECK (leaderboard_visibility IN ('during','after','hidden')),
  language TEXT NOT NULL DEFAULT 'romaji' CHECK (language IN ('romaji','english','kana')),
  created_by TEXT NOT NULL REFERENCES users(user_id),
  created_at_unix_ms INTEGER NOT NULL,
  CHECK (starts_at_unix_ms < ends_at_unix_ms),
  CHECK (visibility != 'private' OR join_code IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_contests_window ON contests(starts_at_unix_ms, ends_at_unix_ms);

-- Prompt pool
CREATE TABLE IF NOT EXISTS prompts (
  prompt_id TEXT PRIMARY KEY,
  language TEXT NOT NULL CHECK (language IN ('romaji','english','kana')),
  display_text TEXT NOT NULL,
  typing_target TEXT NOT NULL,
  tags TEXT NOT NULL DEFAULT '[]',
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at_unix_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompts_language ON prompts(language, is_active);

-- Ordered prompt set per contest, replaced as a whole by admins
CREATE TABLE IF NOT EXISTS contest_prompts (
  contest_id TEXT NOT NULL REFERENCES contests(contest_id) ON DELETE CASCADE,
  prompt_id TEXT NOT NULL REFERENCES prompts(prompt_id),
  order_index INTEGER NOT NULL,
  PRIMARY KEY (contest_id, prompt_id)
);

CREATE INDEX IF NOT EXISTS idx_contest_prompts_order ON contest_prompts(contest_id, order_index);

-- Per-(user, contest) aggregate
CREATE TABLE IF NOT EXISTS entries (
  user_id TEXT NOT NULL REFERENCES users(user_id),
  contest_id TEXT NOT NULL REFERENCES contests(contest_id) ON DELETE CASCADE,
  attempts_used INTEGER NOT NULL DEFAULT 0 CHECK (attempts_used >= 0),
  best_score INTEGER,
  best_cpm REAL,
  best_accuracy REAL,
  last_attempt_at_unix_ms INTEGER,
  joined_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (user_id, contest_id)
);

-- Attempts
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(user_id),
  contest_id TEXT NOT NULL REFERENCES contests(contest_id) ON DELETE CASCADE,
  prompt_id TEXT NOT NULL REFERENCES prompts(prompt_id),
  started_at_unix_ms INTEGER NOT NULL,
  ended_at_unix_ms INTEGER,
  status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running','finished','expired','dq')),
  cpm REAL,
  wpm REAL,
  accuracy REAL,
  errors INTEGER,
  score INTEGER,
  defocus_count INTEGER NOT NULL DEFAULT 0,
  paste_blocked INTEGER NOT NULL DEFAULT 0,
  anomaly_score REAL,
  dq_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_contest_user ON sessions(contest_id, user_id, started_at_unix_ms DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_running ON sessions(started_at_unix_ms) WHERE status = 'running';

-- Covering index for the leaderboard read: finished sessions already in
-- standing order.
CREATE INDEX IF NOT EXISTS idx_sessions_leaderboard
  ON sessions(contest_id, score DESC, accuracy DESC, cpm DESC, ended_at_unix_ms ASC)
  WHERE status = 'finished';

-- Bounded keylog, replaced as a unit when a session finishes
CREATE TABLE IF NOT EXISTS keystrokes (
  session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
  idx INTEGER NOT NULL,
  t_ms INTEGER NOT NULL,
  key TEXT NOT NULL,
  ok INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (session_id, idx)
);
`

// migrationV2 adds refresh token storage.
const migrationV2 = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  token_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
  token_hash TEXT NOT NULL UNIQUE,
  expires_at_unix_ms INTEGER NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at_unix_ms);
`
