package merchants

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory settings store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

func NewMemoryStore(items ...Settings) *MemoryStore {
	s := &MemoryStore{settings: map[string]Settings{}}
	for _, it := range items {
		s.settings[it.Shop] = it
	}
	return s
}

func (s *MemoryStore) Put(v Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[v.Shop] = v
}

func (s *MemoryStore) Get(_ context.Context, shop string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[shop]
	if !ok {
		v = Settings{Shop: shop}
	}
	return v.WithDefaults(), nil
}
