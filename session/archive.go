package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nicknochnack/whisperd/chat"
)

// Archive persists a group's transcript to Redis with a TTL so a returning
// group whose sessions have all disconnected can pick its conversation back
// up. Live state stays in the in-memory Store; the archive is best effort.
type Archive struct {
	client *redis.Client
	ttl    time.Duration
}

func NewArchive(client *redis.Client, ttl time.Duration) *Archive {
	return &Archive{client: client, ttl: ttl}
}

func archiveKey(groupID string) string {
	return fmt.Sprintf("transcript:%s", groupID)
}

// Save stores the group's current history, refreshing the TTL.
func (a *Archive) Save(ctx context.Context, groupID string, msgs []chat.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return a.client.Set(ctx, archiveKey(groupID), data, a.ttl).Err()
}

// Load retrieves the group's archived history. A missing key means the group
// has no archived transcript, which is not an error.
func (a *Archive) Load(ctx context.Context, groupID string) ([]chat.Message, error) {
	data, err := a.client.Get(ctx, archiveKey(groupID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var msgs []chat.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return msgs, nil
}

// Delete removes the group's archived transcript.
func (a *Archive) Delete(ctx context.Context, groupID string) error {
	return a.client.Del(ctx, archiveKey(groupID)).Err()
}
