// Package broker relays group history updates between server instances so a
// group whose sessions landed on different instances still converges. A
// single-instance deployment runs without a broker.
package broker

import (
	"context"
	"encoding/json"

	"github.com/nicknochnack/whisperd/chat"
)

// GroupSyncChannel is the channel (or topic) carrying cross-instance updates.
const GroupSyncChannel = "group-sync"

// Update is one whole-history broadcast from a source session. ServerID lets
// subscribers drop updates they published themselves.
type Update struct {
	GroupID   string         `json:"group_id"`
	SessionID string         `json:"session_id"`
	ServerID  string         `json:"server_id"`
	Messages  []chat.Message `json:"messages"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis publishing.
func (u Update) MarshalBinary() ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (u *Update) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, u)
}

// MessageBroker abstracts the relay transport. Implementations must be safe
// for concurrent publishing.
type MessageBroker interface {
	Publish(ctx context.Context, channel string, update Update) error
	Subscribe(ctx context.Context, channel string) (<-chan Update, error)
	Close() error
	Type() string
}
