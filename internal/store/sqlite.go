// Package store persists round history to SQLite so finished sessions can be
// reviewed with `sketchround history`.
//
// A [Recorder] subscribes to the controller's event bus and writes one row
// per round and one row per completed attempt. [RoundRepository] reads them
// back.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with a read/write lock. SQLite allows a
// single writer, so the pool is pinned to one connection.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens (creating if needed) the history database at path and applies
// the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		target TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT 'active',
		attempts INTEGER NOT NULL DEFAULT 0,
		final_label TEXT NOT NULL DEFAULT '',
		final_confidence REAL NOT NULL DEFAULT 0,
		winning_rank INTEGER NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		UNIQUE (session_id, generation)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		round_id INTEGER NOT NULL,
		request_id INTEGER NOT NULL,
		success INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		top_label TEXT NOT NULL DEFAULT '',
		top_confidence REAL NOT NULL DEFAULT 0,
		candidates INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		completed_at DATETIME NOT NULL,
		FOREIGN KEY (round_id) REFERENCES rounds(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_started_at ON rounds(started_at);
	CREATE INDEX IF NOT EXISTS idx_rounds_target ON rounds(target);
	CREATE INDEX IF NOT EXISTS idx_attempts_round_id ON attempts(round_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires the write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
