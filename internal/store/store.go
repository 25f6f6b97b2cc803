// Package store persists the schedule and session state in a local SQLite
// database used as a simple key-value store: one JSON value per named key.
// All mutations originate from a single process at a time, so read-then-write
// is the only coordination needed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	keyClasses      = "schedule.classes"
	keyAuthState    = "session.auth"
	keyFirstRunDone = "session.first_run_done"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value_json BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path. Use ":memory:"
// for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// getJSON loads the value stored under key into v. The boolean reports
// whether the key existed.
func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM kv WHERE key = ?`, key).Scan(&b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv(key, value_json, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`, key, b, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) deleteKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}
