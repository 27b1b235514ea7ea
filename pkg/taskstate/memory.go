package taskstate

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process memory. It survives re-invocation within
// one process, which is enough for tests and for runs without --state.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Keys returns the stored keys in no particular order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

// MemoryBackend hands out one MemoryStore per task.
type MemoryBackend struct {
	mu    sync.Mutex
	tasks map[string]*MemoryStore
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tasks: make(map[string]*MemoryStore)}
}

func (b *MemoryBackend) Task(taskID string) (Store, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.tasks[taskID]
	if !ok {
		s = NewMemoryStore()
		b.tasks[taskID] = s
	}
	return s, nil
}

func (b *MemoryBackend) Close() error { return nil }
