package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
)

// Manager holds the external alert sources available to scans.
type Manager struct {
	sources map[string]core.AlertSource
	mu      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sources: make(map[string]core.AlertSource),
	}
}

func (m *Manager) Register(source core.AlertSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	if _, exists := m.sources[name]; exists {
		return fmt.Errorf("alert source %s already registered", name)
	}

	m.sources[name] = source
	return nil
}

func (m *Manager) Get(name string) (core.AlertSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, exists := m.sources[name]
	if !exists {
		return nil, fmt.Errorf("alert source %s not found", name)
	}

	return source, nil
}

// List returns the registered source names in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Sources returns the registered sources ordered by name.
func (m *Manager) Sources() []core.AlertSource {
	names := m.List()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.AlertSource, 0, len(names))
	for _, name := range names {
		out = append(out, m.sources[name])
	}
	return out
}
