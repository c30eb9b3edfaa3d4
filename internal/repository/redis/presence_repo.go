package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"teamchat-backend/internal/database"
	"teamchat-backend/pkg/constants"
)

const onlineSetKey = "presence:online"

// PresenceRepository mirrors online status and last-seen times into Redis
// so other services can read them. The in-process registry stays
// authoritative for relaying.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

func lastSeenKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s:last_seen", userID)
}

// SetUserOnline marks user as online
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeSet(ctx, presenceKey(userID), constants.UserStatusOnline, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, onlineSetKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetUserOffline marks user as offline and records when they were last seen
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, onlineSetKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	if err := r.client.SafeSet(ctx, lastSeenKey(userID), lastSeen.Unix(), constants.LastSeenTTL).Err(); err != nil {
		return fmt.Errorf("failed to record last seen: %w", err)
	}
	return nil
}

// RefreshPresence keeps the online flag from expiring
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, presenceKey(userID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// ResetOnline clears the online set. Called at startup since a restarted
// process holds no connections.
func (r *PresenceRepository) ResetOnline(ctx context.Context) error {
	if err := r.client.SafeDel(ctx, onlineSetKey).Err(); err != nil {
		return fmt.Errorf("failed to reset online set: %w", err)
	}
	return nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
