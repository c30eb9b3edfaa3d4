package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/realtime"
	"teamchat-backend/pkg/metrics"
	"teamchat-backend/pkg/push"
)

// MockPusher is a mock implementation of Pusher
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) SendToUsers(ctx context.Context, n *push.Notification, userIDs ...uuid.UUID) (*push.SendResult, error) {
	args := m.Called(ctx, n, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.SendResult), args.Error(1)
}

type handle struct {
	id     string
	events []string
	last   any
}

func (h *handle) ID() string { return h.id }

func (h *handle) Emit(event string, payload any) error {
	h.events = append(h.events, event)
	h.last = payload
	return nil
}

func attach(hub *realtime.Hub, userID uuid.UUID) *handle {
	h := &handle{id: uuid.NewString()}
	hub.Attach(h)
	hub.Join(realtime.UserRoom(userID), h)
	return h
}

func TestSendToUser_SocketAndPush(t *testing.T) {
	hub := realtime.NewHub()
	pusher := new(MockPusher)
	reg := prometheus.NewRegistry()
	service := NewService(hub, pusher, metrics.NewMetrics("test", reg))

	userID := uuid.New()
	phone, laptop := attach(hub, userID), attach(hub, userID)
	other := attach(hub, uuid.New())

	pusher.On("SendToUsers", mock.Anything, mock.MatchedBy(func(n *push.Notification) bool {
		return n.Title == "Missed call" && n.Category == "missed_call" && n.Priority == "high"
	}), []uuid.UUID{userID}).Return(&push.SendResult{SuccessCount: 2}, nil)

	err := service.SendToUser(context.Background(), userID, "Missed call", "You missed a call from Ana",
		map[string]string{"type": "missed_call"})

	require.NoError(t, err)
	for _, h := range []*handle{phone, laptop} {
		require.Equal(t, []string{realtime.EventNotification}, h.events)
		payload := h.last.(realtime.NotificationPayload)
		assert.Equal(t, "You missed a call from Ana", payload.Body)
		assert.False(t, payload.SentAt.IsZero())
	}
	assert.Empty(t, other.events)
	pusher.AssertExpectations(t)

	count, err := testutil.GatherAndCount(reg, "push_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendToUser_PushFailureIsReturned(t *testing.T) {
	hub := realtime.NewHub()
	pusher := new(MockPusher)
	reg := prometheus.NewRegistry()
	service := NewService(hub, pusher, metrics.NewMetrics("test", reg))
	userID := uuid.New()
	h := attach(hub, userID)

	pusher.On("SendToUsers", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("fcm unavailable"))

	err := service.SendToUser(context.Background(), userID, "Incoming group call", "Ana started a call", nil)

	assert.ErrorContains(t, err, "fcm unavailable")
	assert.Len(t, h.events, 1, "socket delivery happens before the push")

	count, err := testutil.GatherAndCount(reg, "push_notifications_failed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendToUser_NoPusher(t *testing.T) {
	hub := realtime.NewHub()
	service := NewService(hub, nil, nil)
	userID := uuid.New()
	h := attach(hub, userID)

	require.NoError(t, service.SendToUser(context.Background(), userID, "t", "b", nil))
	assert.Len(t, h.events, 1)
}
