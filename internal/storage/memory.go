package storage

import (
	"strings"
	"sync"
)

type MemoryStore struct {
	buffers map[string]*strings.Builder
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buffers: make(map[string]*strings.Builder),
	}
}

func (m *MemoryStore) Init() error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Append(key, text string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	buf, exists := m.buffers[key]
	if !exists {
		buf = &strings.Builder{}
		m.buffers[key] = buf
	}
	buf.WriteString(text)
	return nil
}

func (m *MemoryStore) Read(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf, exists := m.buffers[key]
	if !exists {
		return "", ErrBufferNotFound
	}
	return buf.String(), nil
}

func (m *MemoryStore) Clear(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buffers, key)
	return nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.buffers))
	for key := range m.buffers {
		keys = append(keys, key)
	}
	return keys, nil
}
