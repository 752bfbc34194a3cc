package storage

import (
	"context"
	"sync"
)

// Memory keeps items in process memory.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
	used  int64
	quota int64
}

// NewMemory creates an in-memory store limited to quota bytes (0 = no limit).
func NewMemory(quota int64) *Memory {
	return &Memory{items: make(map[string]string), quota: quota}
}

// GetItem implements Storage.
func (m *Memory) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem implements Storage.
func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var replaced int64
	if old, ok := m.items[key]; ok {
		replaced = itemSize(key, old)
	}
	if err := checkQuota(m.quota, m.used, replaced, key, value); err != nil {
		return err
	}
	m.items[key] = value
	m.used += itemSize(key, value) - replaced
	return nil
}
