package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-node alternative to Redis. Expiration is an
// expires_at column checked on read; expired rows are deleted lazily.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS presence (
  user_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  expires_at INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO presence (user_id, status, expires_at) VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT status, expires_at FROM presence WHERE user_id = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	now := time.Now().UnixMilli()
	if now >= expiresAt {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM presence WHERE user_id = ? AND expires_at <= ?`, key, now)
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
