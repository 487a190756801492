package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SocketRegistry tracks open WebSocket connections per coaching session so
// they can be closed when the session ends.
type SocketRegistry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for a session.
func (m *SocketRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
	slog.Debug("Session socket registered", "session_id", sessionID, "sockets", len(m.active[sessionID]))
}

// Unregister removes a connection for a session.
func (m *SocketRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.active, sessionID)
	}
}

// Count returns the number of open connections for a session.
func (m *SocketRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseSession closes every connection of a session.
func (m *SocketRegistry) CloseSession(sessionID, reason string) {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
	if len(conns) > 0 {
		slog.Info("Session sockets closed", "session_id", sessionID, "count", len(conns), "reason", reason)
	}
}

// Expire is a coach.CleanupCallback for the session sweeper.
func (m *SocketRegistry) Expire(sessionID string) {
	m.CloseSession(sessionID, "session expired")
}
