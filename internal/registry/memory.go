package registry

import "sync"

// Memory is the process-local connection registry. The gateway registers a
// connection after login and unregisters it on close.
type Memory struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewMemory constructs an empty registry.
func NewMemory() *Memory {
	return &Memory{conns: make(map[string]Connection)}
}

// ConnectionFor returns the client's live connection, if any.
func (m *Memory) ConnectionFor(clientID string) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[clientID]
	return c, ok
}

// Register binds a connection to a client id, replacing any previous binding.
// The replaced connection is returned so the caller can close it.
func (m *Memory) Register(clientID string, c Connection) Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.conns[clientID]
	m.conns[clientID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unregister removes the binding, but only if it still points at c. A stale
// close must not evict a newer session for the same client.
func (m *Memory) Unregister(clientID string, c Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[clientID] == c {
		delete(m.conns, clientID)
	}
}

// Len returns the number of registered connections.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
