package chat

import "fmt"

// Role identifies which side of the conversation a message belongs to.
type Role string

const (
	RoleBot    Role = "bot"
	RoleClient Role = "client"
)

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleBot || r == RoleClient
}

// Message is a single conversation turn. Messages are synchronized wholesale
// across every session sharing a group token, so the struct stays small and
// value-copyable.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// CloneMessages returns an independent copy of the given history. Sessions must
// never share a backing array: a broadcast overwrites each target with its own
// copy so that later appends on one session cannot alias into another.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ClientTexts extracts the text of every client-authored message, in order.
func ClientTexts(msgs []Message) []string {
	var texts []string
	for _, m := range msgs {
		if m.Role == RoleClient {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

// AllTexts extracts the text of every message regardless of role.
func AllTexts(msgs []Message) []string {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	return texts
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Text)
}
