// Package store implements teller's persistence on SQLite: dialogue
// sessions, the append-mostly audit trail, the idempotency cache, and the
// demo ledger used by the CLI. One database file carries all tables.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"teller/internal/logging"
)

// Store is the SQLite-backed implementation of the persistence contracts.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	log    *zap.Logger
}

// Open initializes the SQLite database at the given path. ":memory:" opens
// an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; funneling everything through a single
	// connection avoids SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, log: logging.Get(logging.CategoryStore)}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			fsm_state        TEXT NOT NULL,
			state_json       TEXT NOT NULL,
			last_activity_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			session_id      TEXT NOT NULL,
			intent          TEXT NOT NULL,
			action          TEXT NOT NULL,
			input_snapshot  TEXT NOT NULL,
			output_snapshot TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			error_message   TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_key ON audit_records(idempotency_key);`,
		`CREATE TABLE IF NOT EXISTS idempotency_cache (
			key        TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			result     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id       TEXT NOT NULL,
			account_ref   TEXT NOT NULL,
			balance_minor INTEGER NOT NULL,
			PRIMARY KEY (user_id, account_ref)
		);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
