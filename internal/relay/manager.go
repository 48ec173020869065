// Package relay implements the reference question/answer websocket server
// that streams answer fragments and records answers for status polling.
package relay

import (
	"log/slog"
	"sync"

	"github.com/ashureev/askstream/internal/metrics"
	"github.com/coder/websocket"
)

// ConnManager tracks open relay connections per user.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Count returns the number of open connections for a user.
func (m *ConnManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Register adds a connection for a user.
func (m *ConnManager) Register(userID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if _, exists := m.active[userID][connID]; !exists {
		metrics.RelayConnections.Inc()
	}
	m.active[userID][connID] = conn
	slog.Debug("Relay connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (m *ConnManager) Unregister(userID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[userID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, userID)
			}
			metrics.RelayConnections.Dec()
			slog.Debug("Relay connection unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// CloseAll closes every open connection, used on server shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, conns := range m.active {
		for connID, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			metrics.RelayConnections.Dec()
			slog.Info("Relay connection closed", "user_id", userID, "conn_id", connID)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
