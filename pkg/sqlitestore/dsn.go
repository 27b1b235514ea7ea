// Package sqlitestore opens the SQLite/libsql databases golivy keeps local
// state in.
//
// Builds without cgo use the pure-Go modernc driver and accept local paths
// only. Builds with cgo use go-libsql, which also accepts libsql:// URLs so
// several machines can share one task-state database.
package sqlitestore

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const memoryDSN = ":memory:"

// Config locates a database. URL wins over Path.
type Config struct {
	// Path is a local file, a file: DSN or ":memory:".
	Path string

	// URL is a libsql server, e.g. libsql://tasks.example.turso.io.
	URL string

	// AuthToken is added to URL as authToken unless URL already has one.
	AuthToken string
}

// target is a resolved Config.
type target struct {
	dsn    string
	local  bool
	remote bool
}

func (c Config) resolve() (target, error) {
	if raw := strings.TrimSpace(c.URL); raw != "" {
		dsn, err := withAuthToken(raw, c.AuthToken)
		if err != nil {
			return target{}, err
		}
		return target{dsn: dsn, remote: true}, nil
	}

	p := strings.TrimSpace(c.Path)
	switch {
	case p == "":
		return target{}, errors.New("sqlite store path or url is required")
	case p == memoryDSN:
		return target{dsn: memoryDSN}, nil
	case strings.HasPrefix(p, "libsql:"):
		return target{dsn: p, remote: true}, nil
	case strings.HasPrefix(p, "file:"):
		local, err := filePart(p)
		if err != nil {
			return target{}, err
		}
		if err := mkParent(local); err != nil {
			return target{}, err
		}
		return target{dsn: p, local: true}, nil
	default:
		if err := mkParent(p); err != nil {
			return target{}, err
		}
		return target{dsn: "file:" + filepath.Clean(p), local: true}, nil
	}
}

func withAuthToken(raw, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return raw, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// filePart returns the filesystem path of a file: DSN, without its query.
func filePart(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	return strings.TrimPrefix(p, "//"), nil
}

func mkParent(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
