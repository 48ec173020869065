package relay

import (
	"testing"

	"github.com/coder/websocket"
)

func TestConnManager_Register(t *testing.T) {
	cm := NewConnManager()
	conn := &websocket.Conn{}

	cm.Register("user123", "c1", conn)

	if got := cm.lookup("user123", "c1"); got != conn {
		t.Errorf("Expected connection %v, got %v", conn, got)
	}
	if n := cm.Count("user123"); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}
}

func TestConnManager_Unregister(t *testing.T) {
	cm := NewConnManager()
	conn := &websocket.Conn{}

	cm.Register("user123", "c1", conn)
	cm.Unregister("user123", "c1", conn)

	if got := cm.lookup("user123", "c1"); got != nil {
		t.Errorf("Expected nil connection, got %v", got)
	}
	if n := cm.Count("user123"); n != 0 {
		t.Errorf("Expected 0 connections, got %d", n)
	}
}

func TestConnManager_UnregisterStale(t *testing.T) {
	cm := NewConnManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	cm.Register("user123", "c1", conn1)
	cm.Register("user123", "c2", conn2)

	// A stale handle for c2 must not evict the live one.
	cm.Unregister("user123", "c2", conn1)
	cm.Unregister("user123", "c1", conn1)

	if got := cm.lookup("user123", "c2"); got != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, got)
	}
}

func (m *ConnManager) lookup(userID, connID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID][connID]
}
