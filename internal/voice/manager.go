// Package voice hosts voice coaching sessions over WebSocket, one
// orchestrator session per connection.
package voice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conn is a registered voice connection.
type Conn struct {
	ID          string
	UserID      string
	SessionID   string
	ConnectedAt time.Time

	closeFn func(reason string)
}

// Close terminates the underlying connection.
func (c *Conn) Close(reason string) {
	if c.closeFn != nil {
		c.closeFn(reason)
	}
}

// SessionManager tracks active voice connections per user and tab session.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*Conn),
	}
}

// Instrument exports the number of active connections as a gauge.
func (m *SessionManager) Instrument(reg prometheus.Registerer) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Number of open voice coaching connections.",
	}, func() float64 { return float64(m.Count()) })
}

// GetActive returns the active connection for a user and session.
func (m *SessionManager) GetActive(userID, sessionID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Count returns the number of active connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Register adds a connection. An existing connection for the same user and
// session is closed and replaced.
func (m *SessionManager) Register(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[conn.UserID]; !exists {
		m.active[conn.UserID] = make(map[string]*Conn)
	}

	if existing, exists := m.active[conn.UserID][conn.SessionID]; exists && existing != conn {
		existing.Close("session replaced")
	}

	m.active[conn.UserID][conn.SessionID] = conn
	slog.Info("Voice session registered", "user_id", conn.UserID, "session_id", conn.SessionID, "conn_id", conn.ID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[conn.UserID]; ok {
		if current, exists := sessions[conn.SessionID]; exists && current == conn {
			delete(sessions, conn.SessionID)
			if len(sessions) == 0 {
				delete(m.active, conn.UserID)
			}
			slog.Info("Voice session unregistered", "user_id", conn.UserID, "session_id", conn.SessionID, "conn_id", conn.ID)
		}
	}
}

// CloseSession terminates all active connections for a user.
func (m *SessionManager) CloseSession(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}

	for sid, conn := range sessions {
		conn.Close("session closed")
		slog.Info("Voice session closed", "user_id", userID, "session_id", sid)
	}
	delete(m.active, userID)
}

// CloseAll terminates every active connection.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			conn.Close("server shutting down")
		}
		delete(m.active, userID)
	}
}
