package cache

import (
	"context"
	"sync"
)

// MemoryCache keeps values in process memory. Contents are lost on restart.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemory() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	stored := append([]byte(nil), value...)
	m.mu.Lock()
	m.entries[key] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Init(context.Context) error {
	return nil
}

// Len reports the number of stored keys
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
