package exports

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Memory is a concurrency-safe, in-process Registry.
type Memory struct {
	mu      sync.RWMutex
	exports map[string]Export
	now     func() time.Time
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{
		exports: make(map[string]Export),
		now:     time.Now,
	}
}

// Lookup implements Registry.
func (m *Memory) Lookup(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exports[name]
	return e.Value, ok, nil
}

// Publish implements Registry.
func (m *Memory) Publish(_ context.Context, e Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = m.now()
	}
	m.exports[e.Name] = e
	return nil
}

// List implements Registry.
func (m *Memory) List(_ context.Context) ([]Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Export, 0, len(m.exports))
	for _, name := range slices.Sorted(maps.Keys(m.exports)) {
		out = append(out, m.exports[name])
	}
	return out, nil
}
