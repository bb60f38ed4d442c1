package querycache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	entry    Entry
	deadline time.Time
}

// MemoryStore is an in-process LRU backend for single-binary use.
type MemoryStore struct {
	lru *lru.Cache[string, memoryEntry]
	now func() time.Time
}

func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, memoryEntry](size)
	return &MemoryStore{lru: c, now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool) {
	v, ok := m.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	if m.now().After(v.deadline) {
		m.lru.Remove(key)
		return Entry{}, false
	}
	return v.entry, true
}

func (m *MemoryStore) Set(_ context.Context, key string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.lru.Add(key, memoryEntry{entry: e, deadline: m.now().Add(ttl)})
}

func (m *MemoryStore) Invalidate(_ context.Context, layer string) {
	prefix := layerPrefix(layer)
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.lru.Remove(key)
		}
	}
}
