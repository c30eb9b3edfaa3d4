package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/audit"
	apperrors "teamchat-backend/pkg/errors"
)

// Mocks
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockAccountRepository) SetSchedule(ctx context.Context, userID uuid.UUID, disableAt, enableAt *time.Time, now time.Time) error {
	return m.Called(ctx, userID, disableAt, enableAt, now).Error(0)
}

func (m *MockAccountRepository) ApplySchedule(ctx context.Context, userID uuid.UUID, status string, clearDisable, clearEnable bool, now time.Time) error {
	return m.Called(ctx, userID, status, clearDisable, clearEnable, now).Error(0)
}

type MockAuditLog struct {
	mock.Mock
}

func (m *MockAuditLog) LogAccountDisabled(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockAuditLog) GetEvents(ctx context.Context, day time.Time, limit int) ([]*audit.AuditEvent, error) {
	args := m.Called(ctx, day, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.AuditEvent), args.Error(1)
}

type recordingSessions struct {
	closed []uuid.UUID
}

func (r *recordingSessions) Disconnect(userID uuid.UUID) int {
	r.closed = append(r.closed, userID)
	return 2
}

type recordingCache struct {
	dropped []uuid.UUID
}

func (r *recordingCache) Invalidate(userID uuid.UUID) {
	r.dropped = append(r.dropped, userID)
}

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MockAccountRepository, *MockAuditLog, *recordingSessions, *recordingCache) {
	repo := new(MockAccountRepository)
	auditLog := new(MockAuditLog)
	sessions := &recordingSessions{}
	profiles := &recordingCache{}
	svc := NewService(repo, auditLog, sessions, profiles)
	svc.now = func() time.Time { return testNow }
	return svc, repo, auditLog, sessions, profiles
}

func TestDisableAccount(t *testing.T) {
	svc, repo, auditLog, sessions, profiles := newTestService()
	userID := uuid.New()

	repo.On("ApplySchedule", mock.Anything, userID, domain.AccountDisabled, true, false, testNow).Return(nil)
	auditLog.On("LogAccountDisabled", mock.Anything, userID).Return(errors.New("redis down"))

	err := svc.DisableAccount(context.Background(), userID)

	require.NoError(t, err, "audit failure does not undo the disable")
	assert.Equal(t, []uuid.UUID{userID}, sessions.closed)
	assert.Equal(t, []uuid.UUID{userID}, profiles.dropped)
	repo.AssertExpectations(t)
	auditLog.AssertExpectations(t)
}

func TestDisableAccount_UnknownUser(t *testing.T) {
	svc, repo, auditLog, sessions, _ := newTestService()
	userID := uuid.New()
	repo.On("ApplySchedule", mock.Anything, userID, domain.AccountDisabled, true, false, testNow).Return(domain.ErrNotFound)

	err := svc.DisableAccount(context.Background(), userID)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
	assert.Empty(t, sessions.closed)
	auditLog.AssertNotCalled(t, "LogAccountDisabled", mock.Anything, mock.Anything)
}

func TestEnableAccount(t *testing.T) {
	svc, repo, _, sessions, profiles := newTestService()
	userID := uuid.New()
	repo.On("ApplySchedule", mock.Anything, userID, domain.AccountActive, false, true, testNow).Return(nil)

	require.NoError(t, svc.EnableAccount(context.Background(), userID))

	assert.Empty(t, sessions.closed)
	assert.Equal(t, []uuid.UUID{userID}, profiles.dropped)
}

func TestScheduleAccount(t *testing.T) {
	disableAt := testNow.Add(time.Hour)
	enableAt := testNow.Add(48 * time.Hour)

	t.Run("stores schedule", func(t *testing.T) {
		svc, repo, _, _, _ := newTestService()
		user := &domain.User{UserID: uuid.New(), ScheduledDisableAt: &disableAt, ScheduledEnableAt: &enableAt}
		repo.On("SetSchedule", mock.Anything, user.UserID, &disableAt, &enableAt, testNow).Return(nil)
		repo.On("GetByID", mock.Anything, user.UserID).Return(user, nil)

		got, err := svc.ScheduleAccount(context.Background(), user.UserID, &ScheduleInput{DisableAt: &disableAt, EnableAt: &enableAt})

		require.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("identical times are rejected", func(t *testing.T) {
		svc, repo, _, _, _ := newTestService()
		same := disableAt

		_, err := svc.ScheduleAccount(context.Background(), uuid.New(), &ScheduleInput{DisableAt: &disableAt, EnableAt: &same})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		repo.AssertNotCalled(t, "SetSchedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, repo, _, _, _ := newTestService()
		userID := uuid.New()
		repo.On("SetSchedule", mock.Anything, userID, (*time.Time)(nil), &enableAt, testNow).Return(domain.ErrNotFound)

		_, err := svc.ScheduleAccount(context.Background(), userID, &ScheduleInput{EnableAt: &enableAt})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
	})
}

func TestListAuditEvents_ClampsLimit(t *testing.T) {
	svc, _, auditLog, _, _ := newTestService()
	events := []*audit.AuditEvent{{EventType: audit.EventLoginFailed}}
	auditLog.On("GetEvents", mock.Anything, testNow, defaultAuditLimit).Return(events, nil).Once()
	auditLog.On("GetEvents", mock.Anything, testNow, maxAuditLimit).Return(events, nil).Once()

	got, err := svc.ListAuditEvents(context.Background(), testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, events, got)

	_, err = svc.ListAuditEvents(context.Background(), testNow, 5000)
	require.NoError(t, err)
	auditLog.AssertExpectations(t)
}
