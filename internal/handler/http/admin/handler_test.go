package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/admin"
	"teamchat-backend/pkg/audit"
	apperrors "teamchat-backend/pkg/errors"
)

type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) ScheduleAccount(ctx context.Context, userID uuid.UUID, input *admin.ScheduleInput) (*domain.User, error) {
	args := m.Called(ctx, userID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockAdminService) DisableAccount(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockAdminService) EnableAccount(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockAdminService) ListAuditEvents(ctx context.Context, day time.Time, limit int) ([]*audit.AuditEvent, error) {
	args := m.Called(ctx, day, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.AuditEvent), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(h *Handler, adminID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, adminID)
		c.Next()
	})
	r.GET("/v1/admin/audit", h.GetAuditLogs)
	r.PUT("/v1/admin/users/:id/schedule", h.SetSchedule)
	r.POST("/v1/admin/users/:id/disable", h.DisableUser)
	r.POST("/v1/admin/users/:id/enable", h.EnableUser)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetSchedule(t *testing.T) {
	userID := uuid.New()
	disableAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := new(MockAdminService)
	svc.On("ScheduleAccount", mock.Anything, userID, mock.MatchedBy(func(in *admin.ScheduleInput) bool {
		return in.DisableAt != nil && in.DisableAt.Equal(disableAt) && in.EnableAt == nil
	})).Return(&domain.User{UserID: userID, ScheduledDisableAt: &disableAt}, nil)

	w := do(newRouter(NewHandler(svc), uuid.New()), http.MethodPut, "/v1/admin/users/"+userID.String()+"/schedule",
		`{"disable_at":"2026-06-01T09:00:00Z"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scheduled_disable_at")
}

func TestDisableUser(t *testing.T) {
	adminID := uuid.New()
	target := uuid.New()
	unknown := uuid.New()
	svc := new(MockAdminService)
	svc.On("DisableAccount", mock.Anything, target).Return(nil)
	svc.On("DisableAccount", mock.Anything, unknown).Return(apperrors.UserNotFoundError())
	r := newRouter(NewHandler(svc), adminID)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/admin/users/"+target.String()+"/disable", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/admin/users/"+unknown.String()+"/disable", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/admin/users/"+adminID.String()+"/disable", "").Code)
	svc.AssertNotCalled(t, "DisableAccount", mock.Anything, adminID)
}

func TestEnableUser(t *testing.T) {
	target := uuid.New()
	svc := new(MockAdminService)
	svc.On("EnableAccount", mock.Anything, target).Return(nil)

	w := do(newRouter(NewHandler(svc), uuid.New()), http.MethodPost, "/v1/admin/users/"+target.String()+"/enable", "")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetAuditLogs(t *testing.T) {
	svc := new(MockAdminService)
	h := NewHandler(svc)
	today := time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return today }
	events := []*audit.AuditEvent{{EventType: audit.EventLoginFailed}}
	svc.On("ListAuditEvents", mock.Anything, today, 0).Return(events, nil)
	svc.On("ListAuditEvents", mock.Anything, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 10).Return(events, nil)
	r := newRouter(h, uuid.New())

	w := do(r, http.MethodGet, "/v1/admin/audit", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"date":"2026-05-04"`)

	w = do(r, http.MethodGet, "/v1/admin/audit?date=2026-05-01&limit=10", "")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/admin/audit?date=May", "").Code)
	svc.AssertExpectations(t)
}
