// Package taskstate provides the crash-durable, task-scoped key/value store
// that resumable steps persist their progress in.
//
// A Store belongs to exactly one task. The host guarantees at most one active
// invocation per task, so implementations only need to be safe for use from
// a single goroutine at a time; the bundled ones are safe for concurrent use
// anyway.
package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("task state key is required")

// Store is the minimal capability a resumable step needs.
type Store interface {
	// Get returns the value stored under key. found is false when the key
	// has never been written.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put durably stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
}

// Backend opens per-task stores on a shared medium.
type Backend interface {
	// Task returns the store for taskID.
	Task(taskID string) (Store, error)

	// Close releases resources held by the backend.
	Close() error
}

// Scope returns a store whose keys are prefixed with prefix and a dot, so
// nested steps cannot collide with their parent's keys.
func Scope(s Store, prefix string) Store {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return s
	}
	if sc, ok := s.(*scoped); ok {
		return &scoped{parent: sc.parent, prefix: sc.prefix + "." + prefix}
	}
	return &scoped{parent: s, prefix: prefix}
}

type scoped struct {
	parent Store
	prefix string
}

func (s *scoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	return s.parent.Get(ctx, s.prefix+"."+key)
}

func (s *scoped) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.parent.Put(ctx, s.prefix+"."+key, value)
}

// GetJSON loads key into v. It returns false without touching v when the key
// is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode task state %q: %w", key, err)
	}
	return true, nil
}

// PutJSON stores v as JSON under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode task state %q: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

func validateTaskID(taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return errors.New("task_id is required")
	}
	if strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return fmt.Errorf("invalid task_id %q", taskID)
	}
	return nil
}
