package websocket

import "github.com/nicknochnack/whisperd/chat"

// Action is one typed event from a client. Type selects which of the other
// fields are meaningful.
type Action struct {
	// Type is one of "load", "message", "draft", "seed_demo", "clear",
	// "assist".
	Type string `json:"type"`

	// Token is the persisted group token on "load"; empty on first visit.
	Token string `json:"token,omitempty"`

	// Perspective is the surface this connection renders, "bot" or "client",
	// sent with "load". Defaults to "client".
	Perspective string `json:"perspective,omitempty"`

	// Role and Text carry a "message" submission. Text alone carries "draft".
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// Mode selects the assistant task on "assist".
	Mode string `json:"mode,omitempty"`
}

// Event is one server push to a client.
type Event struct {
	// Type is one of "welcome", "bound", "state", "error".
	Type string `json:"type"`

	// ConnectionID is sent once on "welcome".
	ConnectionID string `json:"connection_id,omitempty"`

	// Token and SessionID are sent on "bound". The client persists Token as
	// its shared-session cookie.
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// State payload. View is the history rendered for this connection's
	// perspective; locally-triggered and sync-triggered updates look
	// identical.
	Messages   []chat.Message `json:"messages,omitempty"`
	View       []chat.Bubble  `json:"view,omitempty"`
	TaskOutput string         `json:"task_output,omitempty"`

	Error string `json:"error,omitempty"`
}
