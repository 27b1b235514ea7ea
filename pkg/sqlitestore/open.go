package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRemoteUnsupported is returned for libsql URLs by builds without cgo.
var ErrRemoteUnsupported = errors.New("libsql URL requires cgo-enabled build")

// Open opens the database described by cfg, creating a local file and its
// directory when missing.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if t.remote && !remoteSupported {
		return nil, ErrRemoteUnsupported
	}

	db, err := sql.Open(driverName, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driverName, err)
	}
	if err := tune(ctx, db, t); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tune pins local databases to one connection. Files also get WAL and a
// busy timeout so a concurrent reader such as 'golivy doctor' does not fail.
// The timeout is set first because switching the journal mode needs a write
// lock that a just-closed handle may still be releasing.
func tune(ctx context.Context, db *sql.DB, t target) error {
	if t.remote {
		return nil
	}
	db.SetMaxOpenConns(1)
	if !t.local {
		return nil
	}
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var ms int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&ms); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("read journal mode: %w", err)
	}
	if strings.EqualFold(mode, "wal") {
		return nil
	}
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	return nil
}
