// Package redis holds the best-effort external state: the presence mirror
// read by sibling services and the push token store. Nothing here is on the
// signaling hot path; every failure degrades to the in-memory view.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"voxlink/pkg/constants"
)

const onlineSetKey = "presence:online"

// PresenceMirror replicates online/offline transitions into Redis. Entries
// carry a TTL so a lost offline transition self-heals instead of leaving a
// ghost online forever.
type PresenceMirror struct {
	client *redis.Client
}

// NewPresenceMirror creates a mirror over the given client
func NewPresenceMirror(client *redis.Client) *PresenceMirror {
	return &PresenceMirror{client: client}
}

// SetOnline marks the user online in the mirror
func (m *PresenceMirror) SetOnline(ctx context.Context, identity string) error {
	key := fmt.Sprintf("presence:%s", identity)

	if err := m.client.Set(ctx, key, "online", constants.PresenceMirrorTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := m.client.SAdd(ctx, onlineSetKey, identity).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetOffline removes the user from the mirror
func (m *PresenceMirror) SetOffline(ctx context.Context, identity string) error {
	key := fmt.Sprintf("presence:%s", identity)

	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := m.client.SRem(ctx, onlineSetKey, identity).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// IsOnline reports the mirrored status of a user
func (m *PresenceMirror) IsOnline(ctx context.Context, identity string) (bool, error) {
	key := fmt.Sprintf("presence:%s", identity)

	exists, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// Refresh extends the TTL of a mirrored presence entry
func (m *PresenceMirror) Refresh(ctx context.Context, identity string) error {
	key := fmt.Sprintf("presence:%s", identity)

	if err := m.client.Expire(ctx, key, constants.PresenceMirrorTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// OnlineUsers returns the mirrored online set
func (m *PresenceMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	return members, nil
}
