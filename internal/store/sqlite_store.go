package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements core.KeyValueStore over a single SQLite file,
// keyed by path, with a checksum column guarding against partial or
// corrupted reads. Grounded on the teacher's single-row state table,
// generalized here to a path-keyed table so it can back every
// persisted blob (bot state, orchestrator state, stop-loss registry)
// rather than one fixed document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at
// dbPath, enables WAL mode for crash recovery, and ensures the
// key/value table exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS kv_store (
		path TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		checksum BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create kv_store table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts data under path inside a serializable transaction,
// storing a SHA-256 checksum alongside it.
func (s *SQLiteStore) Save(ctx context.Context, path string, data []byte) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	checksum := sha256.Sum256(data)
	const query = `INSERT INTO kv_store (path, data, checksum, updated_at)
		VALUES (?, ?, ?, strftime('%s','now'))
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, checksum = excluded.checksum, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, query, path, data, checksum[:]); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return tx.Commit()
}

// Load reads the bytes stored at path and verifies them against the
// stored checksum, returning an error if they diverge.
func (s *SQLiteStore) Load(ctx context.Context, path string) ([]byte, error) {
	const query = `SELECT data, checksum FROM kv_store WHERE path = ?`
	var data, storedChecksum []byte
	if err := s.db.QueryRowContext(ctx, query, path).Scan(&data, &storedChecksum); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	computed := sha256.Sum256(data)
	if len(storedChecksum) != len(computed) {
		return nil, fmt.Errorf("checksum length mismatch for %s", path)
	}
	for i := range computed {
		if storedChecksum[i] != computed[i] {
			return nil, fmt.Errorf("checksum mismatch for %s: data corruption detected", path)
		}
	}

	return data, nil
}

// Delete removes the row stored at path. Deleting an absent path is
// not an error.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.Exec(`DELETE FROM kv_store WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
