package websocket

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/metrics"
	"github.com/nicknochnack/whisperd/session"
)

// ClientManager tracks the live connections of this server instance, indexed
// both by connection ID and, once bound, by session ID. It implements
// session.Notifier: a state change on any session is pushed to the connection
// owning it, whether the change was local or a sibling's broadcast.
type ClientManager struct {
	byConn    sync.Map // connID -> *Conn
	bySession sync.Map // sessionID -> *Conn
	wg        sync.WaitGroup
	serverID  string
}

// NewClientManager creates a new client manager.
func NewClientManager(serverID string) *ClientManager {
	return &ClientManager{serverID: serverID}
}

// AddClient registers a freshly upgraded connection.
func (m *ClientManager) AddClient(conn *Conn) {
	m.byConn.Store(conn.ID, conn)
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
	logger.Info("client connected", "conn", conn.ID, "server", m.serverID)
}

// BindSession indexes a bound connection by its session so state pushes can
// find it.
func (m *ClientManager) BindSession(sessionID string, conn *Conn) {
	m.bySession.Store(sessionID, conn)
}

// RemoveClient drops a connection from both indexes.
func (m *ClientManager) RemoveClient(conn *Conn) {
	m.byConn.Delete(conn.ID)
	if _, sessionID := conn.Binding(); sessionID != "" {
		m.bySession.Delete(sessionID)
	}
	metrics.ActiveConnections.Dec()
	logger.Info("client disconnected", "conn", conn.ID)
}

// GetClient retrieves a live connection by connection ID.
func (m *ClientManager) GetClient(connID string) (*Conn, bool) {
	if c, ok := m.byConn.Load(connID); ok {
		return c.(*Conn), true
	}
	return nil, false
}

// GetBySession retrieves the live connection bound to a session.
func (m *ClientManager) GetBySession(sessionID string) (*Conn, bool) {
	if c, ok := m.bySession.Load(sessionID); ok {
		return c.(*Conn), true
	}
	return nil, false
}

// StateChanged implements session.Notifier by pushing a state snapshot to the
// connection owning the session. A session with no live connection here may
// be hosted by another instance; that instance pushes it.
func (m *ClientManager) StateChanged(sessionID string, st session.State) {
	conn, ok := m.GetBySession(sessionID)
	if !ok {
		return
	}

	event := Event{
		Type:       "state",
		Messages:   st.Messages,
		View:       chat.FormatFor(conn.Perspective(), st.Messages),
		TaskOutput: st.TaskOutput,
	}
	if err := conn.SafeWriteJSON(event); err != nil {
		logger.Warn("failed to push state", "session", sessionID, "error", err)
		return
	}
	metrics.MessagesSent.Inc()
}

// IncreaseWaitGroup increases the wait group counter.
func (m *ClientManager) IncreaseWaitGroup() {
	m.wg.Add(1)
}

// DecreaseWaitGroup decreases the wait group counter.
func (m *ClientManager) DecreaseWaitGroup() {
	m.wg.Done()
}

// WaitForCompletion waits for all in-flight operations to complete.
func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}

// CloseAllConnections sends close messages to all clients and removes them.
func (m *ClientManager) CloseAllConnections(reason string) {
	m.byConn.Range(func(key, value interface{}) bool {
		conn := value.(*Conn)
		logger.Info("closing connection", "conn", conn.ID, "reason", reason)
		conn.Close(websocket.CloseGoingAway, reason)
		m.RemoveClient(conn)
		return true
	})
}
