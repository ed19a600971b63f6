package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheCache stores values in memcached. Items never get an expiration,
// but memcached may still drop them under memory pressure.
type MemcacheCache struct {
	mc *memcache.Client
}

func NewMemcache(addrs ...string) *MemcacheCache {
	return &MemcacheCache{mc: memcache.New(addrs...)}
}

// itemKey hashes arbitrary keys into memcached's 250 byte, no-whitespace key space
func itemKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "swr:" + hex.EncodeToString(sum[:])
}

func (m *MemcacheCache) Get(_ context.Context, key string) ([]byte, error) {
	item, err := m.mc.Get(itemKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memcache get: %w", err)
	}
	return item.Value, nil
}

func (m *MemcacheCache) Set(_ context.Context, key string, value []byte) error {
	if err := m.mc.Set(&memcache.Item{Key: itemKey(key), Value: value}); err != nil {
		return fmt.Errorf("memcache set: %w", err)
	}
	return nil
}

// Init checks that the servers are reachable
func (m *MemcacheCache) Init(context.Context) error {
	if err := m.mc.Ping(); err != nil {
		return fmt.Errorf("memcache ping: %w", err)
	}
	return nil
}
