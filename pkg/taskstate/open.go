package taskstate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/3leaps/golivy/pkg/sqlitestore"
)

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindS3     = "s3"
)

// BackendConfig selects and configures a task state backend.
type BackendConfig struct {
	// Kind is one of memory, file, sqlite or s3. Empty means file.
	Kind string

	// Dir is the root of the file backend.
	Dir string

	// SQLite holds the database location for the sqlite backend.
	SQLite sqlitestore.Config

	S3 S3Config
}

// Open returns the backend described by cfg.
func Open(ctx context.Context, cfg BackendConfig) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch kind {
	case "", KindFile:
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, fmt.Errorf("file state backend requires a directory")
		}
		return NewFileBackend(filepath.Clean(cfg.Dir)), nil
	case KindMemory:
		return NewMemoryBackend(), nil
	case KindSQLite:
		return OpenSQLBackend(ctx, cfg.SQLite)
	case KindS3:
		return OpenS3Backend(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown state backend %q (expected memory, file, sqlite or s3)", cfg.Kind)
	}
}
