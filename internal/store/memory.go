package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps the document in process memory. Used for tests and "memory://" DSNs.
type MemoryBackend struct {
	mu  sync.Mutex
	doc []byte
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, ErrNoDocument
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *MemoryBackend) Write(_ context.Context, doc []byte) error {
	m.mu.Lock()
	m.doc = append([]byte(nil), doc...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
