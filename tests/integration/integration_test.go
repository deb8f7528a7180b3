package integration

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultWSHost = "localhost:8080"
	testTimeout   = 15 * time.Second
)

type action struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	Perspective string `json:"perspective,omitempty"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text,omitempty"`
}

type event struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Token        string `json:"token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Messages     []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"messages,omitempty"`
	Error string `json:"error,omitempty"`
}

func wsHost() string {
	if h := os.Getenv("WS_HOST"); h != "" {
		return h
	}
	return defaultWSHost
}

func dialAndLoad(t *testing.T, token, perspective string) (*websocket.Conn, event, event) {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: wsHost(), Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err, "Failed to connect to WebSocket server")
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))

	var welcome event
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "welcome", welcome.Type)
	require.NotEmpty(t, welcome.ConnectionID, "Server should send a connection_id on connect")

	require.NoError(t, conn.WriteJSON(action{Type: "load", Token: token, Perspective: perspective}))

	var bound event
	require.NoError(t, conn.ReadJSON(&bound))
	require.Equal(t, "bound", bound.Type)
	require.NotEmpty(t, bound.Token)
	require.NotEmpty(t, bound.SessionID)

	// Initial state snapshot.
	var state event
	require.NoError(t, conn.ReadJSON(&state))
	require.Equal(t, "state", state.Type)

	return conn, bound, state
}

// readState reads events until the next state push.
func readState(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "state" {
			return ev
		}
		require.NotEqual(t, "error", ev.Type, "unexpected error event: %s", ev.Error)
	}
}

// TestE2ESharedSessionFlow runs against a live instance. It connects two
// surfaces to the same group and verifies messages from each side converge.
func TestE2ESharedSessionFlow(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test: set INTEGRATION env var to run")
	}

	clientConn, clientBound, _ := dialAndLoad(t, "", "client")
	log.Printf("Client bound: group=%s session=%s", clientBound.Token, clientBound.SessionID)

	botConn, botBound, _ := dialAndLoad(t, clientBound.Token, "bot")
	require.Equal(t, clientBound.Token, botBound.Token, "both surfaces should share one group")
	require.NotEqual(t, clientBound.SessionID, botBound.SessionID)

	// Client speaks; both sides must see it.
	clientText := fmt.Sprintf("hello from integration test at %s", time.Now())
	require.NoError(t, clientConn.WriteJSON(action{Type: "message", Role: "client", Text: clientText}))

	for name, conn := range map[string]*websocket.Conn{"client": clientConn, "bot": botConn} {
		ev := readState(t, conn)
		require.NotEmpty(t, ev.Messages, "%s should receive the update", name)
		last := ev.Messages[len(ev.Messages)-1]
		assert.Equal(t, "client", last.Role, name)
		assert.Equal(t, clientText, last.Text, name)
	}

	// Bot replies; both sides must converge on the two-message history.
	require.NoError(t, botConn.WriteJSON(action{Type: "message", Role: "bot", Text: "acknowledged"}))

	var histories [][]byte
	for _, conn := range []*websocket.Conn{clientConn, botConn} {
		ev := readState(t, conn)
		require.Len(t, ev.Messages, 2)
		raw, err := json.Marshal(ev.Messages)
		require.NoError(t, err)
		histories = append(histories, raw)
	}
	assert.JSONEq(t, string(histories[0]), string(histories[1]),
		"both surfaces should hold identical histories")
}

// TestE2ESeedOnJoin verifies a late joiner receives existing history.
func TestE2ESeedOnJoin(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test: set INTEGRATION env var to run")
	}

	firstConn, firstBound, _ := dialAndLoad(t, "", "client")

	require.NoError(t, firstConn.WriteJSON(action{Type: "message", Role: "client", Text: "pre-join message"}))
	readState(t, firstConn)

	_, lateBound, seeded := dialAndLoad(t, firstBound.Token, "bot")
	require.Equal(t, firstBound.Token, lateBound.Token)
	require.Len(t, seeded.Messages, 1, "late joiner should be seeded with existing history")
	assert.Equal(t, "pre-join message", seeded.Messages[0].Text)
}
