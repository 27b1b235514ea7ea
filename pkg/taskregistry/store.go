// Package taskregistry keeps a host-side record of every golivy task so
// operators can list tasks, inspect their Livy batch and clean up old ones.
package taskregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Store persists and loads TaskRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<task_id>/task.json
//	<root>/<task_id>/task.lock
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

const recordFile = "task.json"

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

func (s *Store) TaskPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), recordFile)
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("task registry root dir is empty")
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	return os.MkdirAll(s.root, 0755)
}

// Write replaces the record of record.TaskID. Readers never observe a
// partially written task.json.
func (s *Store) Write(record *TaskRecord) error {
	if record == nil {
		return fmt.Errorf("task record is nil")
	}
	taskID := strings.TrimSpace(record.TaskID)
	if err := validateTaskID(taskID); err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	return replaceFile(s.TaskDir(taskID), recordFile, append(data, '\n'))
}

// replaceFile writes data to dir/name through a temp file and a rename.
func replaceFile(dir, name string, data []byte) error {
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	switch {
	case werr != nil:
		return fmt.Errorf("write %s: %w", name, werr)
	case cerr != nil:
		return fmt.Errorf("close %s: %w", name, cerr)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// Get loads a record. A record that claims an active state while its
// process is gone is rewritten as unknown.
func (s *Store) Get(taskID string) (*TaskRecord, error) {
	taskID = strings.TrimSpace(taskID)
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.TaskPath(taskID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("task.json is empty")
	}

	var record TaskRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse task.json: %w", err)
	}

	if record.State.Active() && record.PID > 0 && !isProcessAlive(record.PID) {
		record.State = TaskStateUnknown
		now := time.Now().UTC()
		record.LastHeartbeat = &now
		_ = s.Write(&record)
	}

	return &record, nil
}

// List returns all readable records, newest first.
func (s *Store) List() ([]TaskRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks root: %w", err)
	}

	out := make([]TaskRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return taskSortTime(out[i]).After(taskSortTime(out[j]))
	})

	return out, nil
}

// GC removes terminal tasks that ended more than maxAge before now. With
// dryRun it only counts them.
func (s *Store) GC(maxAge time.Duration, now time.Time, dryRun bool) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("max age must be > 0")
	}
	tasks, err := s.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, t := range tasks {
		if t.EndedAt == nil || !t.State.Terminal() {
			continue
		}
		if now.Sub(t.EndedAt.UTC()) <= maxAge {
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(s.TaskDir(t.TaskID)); err != nil {
				return deleted, fmt.Errorf("remove task dir: %w", err)
			}
		}
		deleted++
	}
	return deleted, nil
}

func taskSortTime(r TaskRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

func validateTaskID(taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return fmt.Errorf("invalid task_id %q", taskID)
	}
	return nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
