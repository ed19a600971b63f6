package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache stores values in a single SQLite table.
// Writes are serialized; SQLite allows one writer at a time anyway.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex sync.Mutex
}

// NewSQLite opens the database file. An empty filename opens a shared
// in-memory database.
func NewSQLite(filename string) (*SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", filename, err)
	}
	return &SQLiteCache{db: db}, nil
}

// Init creates the entries table
func (s *SQLiteCache) Init(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		stored_at INTEGER,
		value BLOB
	)`); err != nil {
		return fmt.Errorf("creating entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enabling WAL: %w", err)
	}
	return nil
}

func (s *SQLiteCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteCache) Set(ctx context.Context, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (key, stored_at, value) VALUES (?, ?, ?)",
		key, time.Now().Unix(), value)
	return err
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
