// Package lifecycle drives each connection through its unbound -> bound ->
// closed state machine, keeping the registry, membership table and session
// store consistent on the way.
package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/nicknochnack/whisperd/fanout"
	"github.com/nicknochnack/whisperd/group"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/metrics"
	"github.com/nicknochnack/whisperd/registry"
	"github.com/nicknochnack/whisperd/session"
)

// Manager wires connect and disconnect events into the shared state tables.
type Manager struct {
	registry *registry.Registry
	groups   *group.Table
	sessions *session.Store
	engine   *fanout.Engine
}

func NewManager(reg *registry.Registry, groups *group.Table, sessions *session.Store, engine *fanout.Engine) *Manager {
	return &Manager{
		registry: reg,
		groups:   groups,
		sessions: sessions,
		engine:   engine,
	}
}

// Connect handles the page load event for a fresh connection (unbound ->
// bound). The group token comes from the client's persisted cookie; when the
// client has none yet a new token is generated and returned for it to
// persist. A new session is created for the connection, joined to the group,
// bound in the registry and then seeded from an existing group member.
func (m *Manager) Connect(ctx context.Context, connID, groupToken string) registry.Binding {
	groupID := groupToken
	if groupID == "" {
		groupID = uuid.New().String()
	}
	sessionID := uuid.New().String()

	m.sessions.GetOrCreate(sessionID, session.State{})
	m.groups.Join(groupID, sessionID)
	m.registry.Bind(connID, groupID, sessionID)

	// Seeding runs after join so a racing broadcast can already reach the new
	// member; last-writer-wins keeps the outcome consistent either way.
	m.engine.SeedOnJoin(ctx, groupID, sessionID)

	metrics.ActiveGroups.Set(float64(m.groups.Groups()))
	metrics.ActiveSessions.Set(float64(m.sessions.Len()))
	logger.Info("connection bound", "conn", connID, "group", groupID, "session", sessionID)

	return registry.Binding{GroupID: groupID, SessionID: sessionID}
}

// Disconnect handles the transport disconnect event (bound -> closed). A
// disconnect for a connection that never completed its load handler, or a
// second disconnect for the same connection, is a no-op.
func (m *Manager) Disconnect(connID string) {
	b, ok := m.registry.Unbind(connID)
	if !ok {
		logger.Debug("disconnect for unbound connection", "conn", connID)
		return
	}

	m.groups.Leave(b.GroupID, b.SessionID)
	if m.registry.SessionRefs(b.SessionID) == 0 {
		m.sessions.Delete(b.SessionID)
	}

	metrics.ActiveGroups.Set(float64(m.groups.Groups()))
	metrics.ActiveSessions.Set(float64(m.sessions.Len()))
	logger.Info("connection closed", "conn", connID, "group", b.GroupID, "session", b.SessionID)
}
