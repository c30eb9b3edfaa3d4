// Package notification delivers user notifications over the realtime
// socket and to registered push devices.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/realtime"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
	"teamchat-backend/pkg/push"
)

// Emitter addresses a user's personal room
type Emitter interface {
	EmitToUser(userID uuid.UUID, event string, payload any) int
}

// Pusher sends to a user's registered device tokens
type Pusher interface {
	SendToUsers(ctx context.Context, notification *push.Notification, userIDs ...uuid.UUID) (*push.SendResult, error)
}

// Service handles notification delivery
type Service struct {
	emitter Emitter
	pusher  Pusher
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a new notification service. pusher and m may be nil.
func NewService(emitter Emitter, pusher Pusher, m *metrics.Metrics) *Service {
	return &Service{
		emitter: emitter,
		pusher:  pusher,
		metrics: m,
		now:     time.Now,
	}
}

// SendToUser emits a notification event to every connection of userID and
// pushes it to their devices. Only push failures are returned.
func (s *Service) SendToUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) error {
	category := data["type"]
	if category == "" {
		category = "general"
	}

	delivered := s.emitter.EmitToUser(userID, realtime.EventNotification, realtime.NotificationPayload{
		Title:  title,
		Body:   body,
		Data:   data,
		SentAt: s.now().UTC(),
	})

	if s.pusher == nil {
		return nil
	}

	result, err := s.pusher.SendToUsers(ctx, &push.Notification{
		Title:    title,
		Body:     body,
		Data:     data,
		Priority: "high",
		Sound:    "default",
		Category: category,
	}, userID)
	if err != nil {
		s.metrics.RecordPushNotification(category, true)
		return fmt.Errorf("failed to push notification: %w", err)
	}

	if result != nil && result.SuccessCount+result.FailureCount > 0 {
		s.metrics.RecordPushNotification(category, result.SuccessCount == 0)
	}

	logger.Debug("Notification sent",
		zap.String("user_id", userID.String()),
		zap.String("category", category),
		zap.Int("socket_deliveries", delivered))
	return nil
}
