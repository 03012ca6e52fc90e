package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. A positive capacity bounds
// the total size of stored values in bytes.
type MemoryBackend struct {
	mu       sync.Mutex
	values   map[string][]byte
	size     int
	capacity int
	closed   bool
}

// NewMemoryBackend creates a MemoryBackend. capacity <= 0 means unlimited.
func NewMemoryBackend(capacity int) *MemoryBackend {
	return &MemoryBackend{
		values:   make(map[string][]byte),
		capacity: capacity,
	}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	next := m.size - len(m.values[key]) + len(value)
	if m.capacity > 0 && next > m.capacity {
		return ErrCapacityExceeded
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	m.size = next
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.size -= len(m.values[key])
	delete(m.values, key)
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Size returns the number of bytes currently stored.
func (m *MemoryBackend) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}
