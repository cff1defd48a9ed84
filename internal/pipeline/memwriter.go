package pipeline

import (
	"bytes"
	"sync"
)

// MemoryWriter implements Writer in memory.
type MemoryWriter struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// WriteFile stores a copy of data.
func (m *MemoryWriter) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[path] = bytes.Clone(data)
	return nil
}

// File retrieves a written file's content.
func (m *MemoryWriter) File(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path]
	return data, ok
}

// Len returns the number of files written.
func (m *MemoryWriter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.files)
}

var _ Writer = (*MemoryWriter)(nil)
