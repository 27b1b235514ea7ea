package taskstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/golivy/pkg/sqlitestore"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS task_state (
    task_id    TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (task_id, key)
);
`

// SQLBackend keeps every task's state in one SQLite/libsql table.
type SQLBackend struct {
	db     *sql.DB
	ownsDB bool
}

// OpenSQLBackend opens the database described by cfg and ensures the schema.
func OpenSQLBackend(ctx context.Context, cfg sqlitestore.Config) (*SQLBackend, error) {
	db, err := sqlitestore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b, err := NewSQLBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// NewSQLBackend wraps an already open database. The caller keeps ownership
// of db.
func NewSQLBackend(ctx context.Context, db *sql.DB) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("task state database is nil")
	}
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, fmt.Errorf("create task_state table: %w", err)
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) Task(taskID string) (Store, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	return &SQLStore{db: b.db, taskID: strings.TrimSpace(taskID)}, nil
}

func (b *SQLBackend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

// SQLStore is the state of one task in the task_state table.
type SQLStore struct {
	db     *sql.DB
	taskID string
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM task_state WHERE task_id = ? AND key = ?`,
		s.taskID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get task state %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_state (task_id, key, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (task_id, key) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at`,
		s.taskID, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put task state %q: %w", key, err)
	}
	return nil
}
