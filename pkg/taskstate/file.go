package taskstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// FileBackend persists task state as one JSON document per task.
//
// Directory layout:
//
//	<root>/<task_id>/state.json
//
// Root is expected to be under the app data dir.
type FileBackend struct {
	root string
}

func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: strings.TrimSpace(root)}
}

func (b *FileBackend) RootDir() string {
	return b.root
}

func (b *FileBackend) Task(taskID string) (Store, error) {
	if strings.TrimSpace(b.root) == "" {
		return nil, fmt.Errorf("task state root dir is empty")
	}
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	return &FileStore{path: filepath.Join(b.root, strings.TrimSpace(taskID), "state.json")}, nil
}

func (b *FileBackend) Close() error { return nil }

// FileStore is the state document of a single task.
//
// Every Put rewrites the whole document through a temp file and rename, so a
// crash leaves either the old or the new document on disk, never a torn one.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// OpenFileStore returns a store backed by the document at path.
func OpenFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

type fileDocument struct {
	Entries map[string]fileEntry `json:"entries"`
}

// fileEntry holds a value byte for byte. UTF-8 text stays readable in
// Value; anything else is stored as base64 in Raw.
type fileEntry struct {
	Value     *string   `json:"value,omitempty"`
	Raw       []byte    `json:"raw,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, false, err
	}
	e, ok := doc.Entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.Value != nil {
		return []byte(*e.Value), true, nil
	}
	return e.Raw, true, nil
}

func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	e := fileEntry{UpdatedAt: time.Now().UTC()}
	if utf8.Valid(value) {
		text := string(value)
		e.Value = &text
	} else {
		e.Raw = append([]byte{}, value...)
	}
	doc.Entries[key] = e

	return s.write(doc)
}

func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Entries: make(map[string]fileEntry)}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read task state: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("parse task state %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]fileEntry)
	}
	return doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	dir := filepath.Dir(s.path)
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create task state dir: %w", err)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "state.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
