package fanout

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicknochnack/whisperd/broker"
	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/group"
	"github.com/nicknochnack/whisperd/session"
)

// recordingNotifier collects every StateChanged call.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) StateChanged(sessionID string, _ session.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sessionID)
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func newTestEngine(t *testing.T) (*Engine, *group.Table, *session.Store, *recordingNotifier) {
	t.Helper()
	groups := group.NewTable()
	sessions := session.NewStore()
	engine := NewEngine(groups, sessions, "server-1")
	notifier := &recordingNotifier{}
	engine.SetNotifier(notifier)
	return engine, groups, sessions, notifier
}

func join(groups *group.Table, sessions *session.Store, groupID string, sessionIDs ...string) {
	for _, sid := range sessionIDs {
		sessions.GetOrCreate(sid, session.State{})
		groups.Join(groupID, sid)
	}
}

func messagesOf(t *testing.T, sessions *session.Store, sid string) []chat.Message {
	t.Helper()
	st, ok := sessions.Get(sid)
	require.True(t, ok, "session %s should exist", sid)
	return st.Messages
}

func TestAppendFansOutToAllSiblings(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A", "B", "C")

	msg := chat.Message{Role: chat.RoleClient, Text: "hello"}
	require.NoError(t, engine.Append(context.Background(), "g", "A", msg))

	want := []chat.Message{msg}
	assert.Equal(t, want, messagesOf(t, sessions, "A"))
	assert.Equal(t, want, messagesOf(t, sessions, "B"))
	assert.Equal(t, want, messagesOf(t, sessions, "C"))
}

func TestBroadcastNeverReentersSource(t *testing.T) {
	engine, groups, sessions, notifier := newTestEngine(t)
	join(groups, sessions, "g", "A", "B")

	require.NoError(t, engine.Append(context.Background(), "g", "A",
		chat.Message{Role: chat.RoleBot, Text: "hi"}))

	// The source is notified exactly once, from its own synchronous update;
	// the fan-out loop must not touch it again.
	count := 0
	for _, sid := range notifier.notified() {
		if sid == "A" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSeedOnJoinCopiesFromLiveSibling(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A")

	history := []chat.Message{
		{Role: chat.RoleClient, Text: "one"},
		{Role: chat.RoleBot, Text: "two"},
		{Role: chat.RoleClient, Text: "three"},
	}
	sessions.Set("A", session.State{Messages: history})

	join(groups, sessions, "g", "D")
	engine.SeedOnJoin(context.Background(), "g", "D")

	assert.Equal(t, history, messagesOf(t, sessions, "D"))
}

func TestSeedOnJoinFirstSessionStartsEmpty(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A")

	engine.SeedOnJoin(context.Background(), "g", "A")

	assert.Empty(t, messagesOf(t, sessions, "A"))
}

func TestGroupsAreIsolated(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g1", "A", "B")
	join(groups, sessions, "g2", "X")

	require.NoError(t, engine.Append(context.Background(), "g1", "A",
		chat.Message{Role: chat.RoleClient, Text: "private"}))

	assert.Empty(t, messagesOf(t, sessions, "X"),
		"a message in one group must never reach another group's sessions")
}

func TestVanishedSiblingIsSkipped(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A", "B", "C")

	// B's session vanished but its membership has not been cleaned up yet,
	// mimicking a disconnect racing the broadcast.
	sessions.Delete("B")

	msg := chat.Message{Role: chat.RoleClient, Text: "hello"}
	require.NoError(t, engine.Append(context.Background(), "g", "A", msg),
		"a vanished sibling must not surface an error to the trigger")

	assert.Equal(t, []chat.Message{msg}, messagesOf(t, sessions, "C"),
		"remaining siblings must still be updated")
}

func TestAppendOnVanishedSourceReturnsNotFound(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A")
	sessions.Delete("A")

	err := engine.Append(context.Background(), "g", "A",
		chat.Message{Role: chat.RoleClient, Text: "x"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A")

	err := engine.Append(context.Background(), "g", "A",
		chat.Message{Role: "moderator", Text: "x"})
	assert.Error(t, err)
	assert.Empty(t, messagesOf(t, sessions, "A"))
}

func TestClearResetsHistoryEverywhere(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A", "B")

	require.NoError(t, engine.Replace(context.Background(), "g", "A", chat.DemoConversation()))
	require.NotEmpty(t, messagesOf(t, sessions, "B"))

	require.NoError(t, engine.Clear(context.Background(), "g", "A"))
	assert.Empty(t, messagesOf(t, sessions, "A"))
	assert.Empty(t, messagesOf(t, sessions, "B"))
}

func TestScenarioBotAndClientSessions(t *testing.T) {
	// Group "tok-1" has S1 (agent surface) and S2 (client surface). S2 submits
	// a client message; both converge. S1 then disconnects; only S2 remains.
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "tok-1", "S1", "S2")

	msg := chat.Message{Role: chat.RoleClient, Text: "hello"}
	require.NoError(t, engine.Append(context.Background(), "tok-1", "S2", msg))

	want := []chat.Message{msg}
	assert.Equal(t, want, messagesOf(t, sessions, "S1"))
	assert.Equal(t, want, messagesOf(t, sessions, "S2"))

	groups.Leave("tok-1", "S1")
	sessions.Delete("S1")
	assert.ElementsMatch(t, []string{"S2"}, groups.MembersOf("tok-1"))
}

func TestApplyRemoteSkipsOwnUpdates(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A")

	engine.ApplyRemote(broker.Update{
		GroupID:  "g",
		ServerID: "server-1", // same instance
		Messages: []chat.Message{{Role: chat.RoleBot, Text: "loop"}},
	})

	assert.Empty(t, messagesOf(t, sessions, "A"),
		"an instance must drop updates it published itself")
}

func TestApplyRemoteUpdatesLocalMembers(t *testing.T) {
	engine, groups, sessions, _ := newTestEngine(t)
	join(groups, sessions, "g", "A", "B")

	history := []chat.Message{{Role: chat.RoleClient, Text: "from elsewhere"}}
	engine.ApplyRemote(broker.Update{
		GroupID:   "g",
		SessionID: "remote-session",
		ServerID:  "server-2",
		Messages:  history,
	})

	assert.Equal(t, history, messagesOf(t, sessions, "A"))
	assert.Equal(t, history, messagesOf(t, sessions, "B"))
}
