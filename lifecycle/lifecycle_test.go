package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/fanout"
	"github.com/nicknochnack/whisperd/group"
	"github.com/nicknochnack/whisperd/registry"
	"github.com/nicknochnack/whisperd/session"
)

func newTestManager() (*Manager, *registry.Registry, *group.Table, *session.Store) {
	reg := registry.New()
	groups := group.NewTable()
	sessions := session.NewStore()
	engine := fanout.NewEngine(groups, sessions, "server-1")
	return NewManager(reg, groups, sessions, engine), reg, groups, sessions
}

func TestConnectGeneratesTokenWhenAbsent(t *testing.T) {
	m, reg, groups, sessions := newTestManager()

	b := m.Connect(context.Background(), "c1", "")
	assert.NotEmpty(t, b.GroupID, "a client without a persisted token gets a fresh one")
	assert.NotEmpty(t, b.SessionID)

	got, ok := reg.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, b, got)
	assert.True(t, groups.Contains(b.GroupID, b.SessionID))
	_, ok = sessions.Get(b.SessionID)
	assert.True(t, ok)
}

func TestConnectReusesPersistedToken(t *testing.T) {
	m, _, groups, _ := newTestManager()

	b1 := m.Connect(context.Background(), "c1", "tok-1")
	b2 := m.Connect(context.Background(), "c2", "tok-1")

	assert.Equal(t, "tok-1", b1.GroupID)
	assert.Equal(t, "tok-1", b2.GroupID)
	assert.NotEqual(t, b1.SessionID, b2.SessionID, "each connection gets its own session")
	assert.ElementsMatch(t, []string{b1.SessionID, b2.SessionID}, groups.MembersOf("tok-1"))
}

func TestConnectSeedsFromExistingMember(t *testing.T) {
	m, _, _, sessions := newTestManager()

	b1 := m.Connect(context.Background(), "c1", "tok-1")
	history := []chat.Message{
		{Role: chat.RoleClient, Text: "one"},
		{Role: chat.RoleBot, Text: "two"},
		{Role: chat.RoleClient, Text: "three"},
	}
	sessions.Set(b1.SessionID, session.State{Messages: history})

	b2 := m.Connect(context.Background(), "c2", "tok-1")

	st, ok := sessions.Get(b2.SessionID)
	require.True(t, ok)
	assert.Equal(t, history, st.Messages, "a joining session starts with a sibling's history, not empty")
}

func TestDisconnectRemovesMembershipAndSession(t *testing.T) {
	m, reg, groups, sessions := newTestManager()

	b1 := m.Connect(context.Background(), "c1", "tok-1")
	b2 := m.Connect(context.Background(), "c2", "tok-1")

	m.Disconnect("c1")

	_, ok := reg.Lookup("c1")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{b2.SessionID}, groups.MembersOf("tok-1"))
	_, ok = sessions.Get(b1.SessionID)
	assert.False(t, ok, "session with no remaining connection is destroyed")
}

func TestDoubleDisconnectIsNoOp(t *testing.T) {
	m, _, groups, _ := newTestManager()

	m.Connect(context.Background(), "c1", "tok-1")
	b2 := m.Connect(context.Background(), "c2", "tok-1")

	m.Disconnect("c1")
	m.Disconnect("c1") // second call must not touch unrelated members

	assert.ElementsMatch(t, []string{b2.SessionID}, groups.MembersOf("tok-1"))
}

func TestDisconnectBeforeBindIsNoOp(t *testing.T) {
	m, _, groups, sessions := newTestManager()

	// The connection dropped before its load handler ran.
	m.Disconnect("never-bound")

	assert.Equal(t, 0, groups.Groups())
	assert.Equal(t, 0, sessions.Len())
}

func TestAllDisconnectedLeavesNoGroupRecord(t *testing.T) {
	m, _, groups, sessions := newTestManager()

	m.Connect(context.Background(), "c1", "tok-1")
	m.Connect(context.Background(), "c2", "tok-1")
	m.Disconnect("c1")
	m.Disconnect("c2")

	assert.Equal(t, 0, groups.Groups(), "empty groups are deleted eagerly")
	assert.Equal(t, 0, sessions.Len())

	// Repeated cycles must not accumulate state.
	for i := 0; i < 100; i++ {
		m.Connect(context.Background(), "c", "tok-1")
		m.Disconnect("c")
	}
	assert.Equal(t, 0, groups.Groups())
	assert.Equal(t, 0, sessions.Len())
}

func TestReconnectIsANewConnection(t *testing.T) {
	m, reg, _, _ := newTestManager()

	b1 := m.Connect(context.Background(), "c1", "tok-1")
	m.Disconnect("c1")

	// A reconnect arrives with a new connection ID and restarts at unbound.
	b2 := m.Connect(context.Background(), "c2", "tok-1")
	assert.Equal(t, b1.GroupID, b2.GroupID)
	assert.NotEqual(t, b1.SessionID, b2.SessionID)
	assert.Equal(t, 1, reg.Len())
}
