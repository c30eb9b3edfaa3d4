// Package audit records security-relevant events in Redis, one list per day.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"teamchat-backend/pkg/constants"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	EventLoginSuccess    AuditEventType = "login_success"
	EventLoginFailed     AuditEventType = "login_failed"
	EventAccountDisabled AuditEventType = "account_disabled"
	EventFileUpload      AuditEventType = "file_upload"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	EventType AuditEventType `json:"event_type"`
	Resource  string         `json:"resource,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Success   bool           `json:"success"`
	ErrorCode string         `json:"error_code,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditLogger handles audit logging
type AuditLogger struct {
	redisClient *redis.Client
	now         func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(redisClient *redis.Client) *AuditLogger {
	return &AuditLogger{
		redisClient: redisClient,
		now:         time.Now,
	}
}

func dayKey(t time.Time) string {
	return fmt.Sprintf("audit:events:%s", t.Format("2006-01-02"))
}

// Log stores event under the current day's list
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Timestamp = al.now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := dayKey(event.Timestamp)
	pipe := al.redisClient.Pipeline()
	pipe.LPush(ctx, key, eventJSON)
	pipe.Expire(ctx, key, constants.AuditLogRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	return nil
}

// LogLoginSuccess logs a successful login
func (al *AuditLogger) LogLoginSuccess(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventLoginSuccess,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})
}

// LogLoginFailed logs a failed login attempt against username
func (al *AuditLogger) LogLoginFailed(ctx context.Context, username, ipAddress, userAgent, errorCode string) error {
	return al.Log(ctx, &AuditEvent{
		EventType: EventLoginFailed,
		Resource:  username,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		ErrorCode: errorCode,
	})
}

// LogAccountDisabled logs a scheduled account disable
func (al *AuditLogger) LogAccountDisabled(ctx context.Context, userID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventAccountDisabled,
		Success:   true,
	})
}

// LogFileUpload logs a stored upload
func (al *AuditLogger) LogFileUpload(ctx context.Context, userID, fileID uuid.UUID, ipAddress, userAgent string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventFileUpload,
		Resource:  fileID.String(),
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})
}

// GetEvents returns up to limit events of one day, newest first
func (al *AuditLogger) GetEvents(ctx context.Context, day time.Time, limit int) ([]*AuditEvent, error) {
	members, err := al.redisClient.LRange(ctx, dayKey(day.UTC()), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}

	events := make([]*AuditEvent, 0, len(members))
	for _, member := range members {
		var event AuditEvent
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}
