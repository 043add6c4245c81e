package storage

import (
	"context"
	"sync"
)

// KeyValueStore is a flat string store with a bounded value size, the shape
// of most embedded preference stores.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Apply performs every delete and then every set as one atomic unit.
	Apply(ctx context.Context, m Mutation) error
	Close() error
}

type Mutation struct {
	Delete []string
	Set    []KV
}

type KV struct {
	Key   string
	Value string
}

var _ KeyValueStore = (*MemoryStore)(nil)

// MemoryStore is an in-process KeyValueStore for tests and the memory backend.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range m.Delete {
		delete(s.values, key)
	}
	for _, kv := range m.Set {
		s.values[kv.Key] = kv.Value
	}
	return nil
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	return keys
}

func (s *MemoryStore) Close() error { return nil }
