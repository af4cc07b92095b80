package store

import (
	"context"
	"sync"
)

// MemoryBackend implements Backend using sync.Map
type MemoryBackend struct {
	data sync.Map
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val.([]byte)...), true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	m.data.Store(key, append([]byte(nil), value...))
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
