package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chumtheme/model"
)

// Event types pushed to WebSocket clients.
const (
	EventHello         = "hello"
	EventThemeReloaded = "theme_reloaded"
	EventRepoRefreshed = "repo_refreshed"
	EventRepoChanged   = "repo_changed"
)

// Event is a message pushed to every WebSocket client.
type Event struct {
	Type    string               `json:"type"`
	ID      string               `json:"id"`
	Time    time.Time            `json:"time"`
	Themes  []string             `json:"themes,omitempty"`
	Refresh *model.RefreshResult `json:"refresh,omitempty"`
}

func newEvent(typ string) Event {
	return Event{Type: typ, ID: uuid.NewString(), Time: time.Now().UTC()}
}

// connWithMutex wraps a WebSocket connection with its own mutex for thread-safe writes.
type connWithMutex struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WSConnectionManager manages WebSocket connections for broadcasting.
type WSConnectionManager struct {
	mu          sync.RWMutex
	connections map[*websocket.Conn]*connWithMutex
}

// NewWSConnectionManager creates a new WebSocket connection manager.
func NewWSConnectionManager() *WSConnectionManager {
	return &WSConnectionManager{
		connections: make(map[*websocket.Conn]*connWithMutex),
	}
}

// Add adds a connection to the manager.
func (m *WSConnectionManager) Add(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn] = &connWithMutex{
		conn: conn,
	}
}

// Remove removes a connection from the manager and closes it.
func (m *WSConnectionManager) Remove(conn *websocket.Conn) {
	m.mu.Lock()
	_, ok := m.connections[conn]
	delete(m.connections, conn)
	m.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Len returns the number of connected clients.
func (m *WSConnectionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Broadcast sends an event to all connected clients. Clients that fail the
// write are dropped.
func (m *WSConnectionManager) Broadcast(event Event) {
	m.mu.RLock()
	conns := make([]*connWithMutex, 0, len(m.connections))
	for _, cwm := range m.connections {
		conns = append(conns, cwm)
	}
	m.mu.RUnlock()

	for _, cwm := range conns {
		cwm.mu.Lock()
		_ = cwm.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := cwm.conn.WriteJSON(event)
		cwm.mu.Unlock()

		if err != nil {
			m.Remove(cwm.conn)
		}
	}
}

// WriteJSON safely writes JSON to a specific connection using its mutex.
func (m *WSConnectionManager) WriteJSON(conn *websocket.Conn, message any) error {
	m.mu.RLock()
	cwm, exists := m.connections[conn]
	m.mu.RUnlock()

	if !exists {
		return conn.WriteJSON(message)
	}

	cwm.mu.Lock()
	defer cwm.mu.Unlock()
	return cwm.conn.WriteJSON(message)
}
