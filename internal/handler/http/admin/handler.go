package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/admin"
	"teamchat-backend/pkg/audit"
	"teamchat-backend/pkg/response"
)

// AdminService manages accounts and reads the audit trail
type AdminService interface {
	ScheduleAccount(ctx context.Context, userID uuid.UUID, input *admin.ScheduleInput) (*domain.User, error)
	DisableAccount(ctx context.Context, userID uuid.UUID) error
	EnableAccount(ctx context.Context, userID uuid.UUID) error
	ListAuditEvents(ctx context.Context, day time.Time, limit int) ([]*audit.AuditEvent, error)
}

// Handler handles admin HTTP requests. Routes must sit behind
// middleware.RequireRole(domain.RoleAdmin).
type Handler struct {
	adminService AdminService
	now          func() time.Time
}

// NewHandler creates a new admin handler
func NewHandler(adminService AdminService) *Handler {
	return &Handler{
		adminService: adminService,
		now:          time.Now,
	}
}

// ScheduleRequest sets or clears pending account status changes
type ScheduleRequest struct {
	DisableAt *time.Time `json:"disable_at"`
	EnableAt  *time.Time `json:"enable_at"`
}

// SetSchedule replaces a user's pending disable/enable times
// PUT /v1/admin/users/:id/schedule
func (h *Handler) SetSchedule(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	user, err := h.adminService.ScheduleAccount(c.Request.Context(), userID, &admin.ScheduleInput{
		DisableAt: req.DisableAt,
		EnableAt:  req.EnableAt,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, user)
}

// DisableUser disables an account now and closes its connections
// POST /v1/admin/users/:id/disable
func (h *Handler) DisableUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	if adminID, ok := middleware.UserID(c); ok && adminID == userID {
		response.ValidationError(c, "cannot disable yourself")
		return
	}

	if err := h.adminService.DisableAccount(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "User disabled",
	})
}

// EnableUser re-enables an account now
// POST /v1/admin/users/:id/enable
func (h *Handler) EnableUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	if err := h.adminService.EnableAccount(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "User enabled",
	})
}

// GetAuditLogs retrieves one day of audit events, newest first
// GET /v1/admin/audit?date=2026-05-04&limit=100
func (h *Handler) GetAuditLogs(c *gin.Context) {
	day := h.now().UTC()
	if dateStr := c.Query("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			response.ValidationError(c, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			response.ValidationError(c, "Invalid limit")
			return
		}
		limit = l
	}

	events, err := h.adminService.ListAuditEvents(c.Request.Context(), day, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"date":       day.Format("2006-01-02"),
		"audit_logs": events,
		"count":      len(events),
	})
}
