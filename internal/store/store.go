// Package store persists sessions and subagent runs in SQLite so they
// survive the process.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"aicore/internal/logging"
)

// SQLiteStore implements session.Persister and subagent.RunStore.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open creates or opens the database at path, creating parent directories.
func Open(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.StoreError("failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.StoreError("failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close releases the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) initialize() error {
	sessions := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		total_tokens INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`

	// Position keeps message order; rows are rewritten on every save.
	messages := `
	CREATE TABLE IF NOT EXISTS session_messages (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT,
		tool_calls TEXT,
		tool_call_id TEXT,
		PRIMARY KEY(session_id, position)
	);
	`

	runs := `
	CREATE TABLE IF NOT EXISTS subagent_runs (
		id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		messages TEXT NOT NULL,
		last_used_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_last_used ON subagent_runs(last_used_at);
	`

	for _, ddl := range []string{sessions, messages, runs} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	logging.StoreDebug("schema initialized")
	return nil
}
