package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/service/auth"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/response"
)

// AuthService signs users in
type AuthService interface {
	Login(ctx context.Context, input *auth.LoginInput) (*domain.LoginResponse, error)
}

// AuditRecorder records sign-in attempts
type AuditRecorder interface {
	LogLoginSuccess(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) error
	LogLoginFailed(ctx context.Context, username, ipAddress, userAgent, errorCode string) error
}

// Handler handles HTTP requests for authentication
type Handler struct {
	authService AuthService
	audit       AuditRecorder
}

// NewHandler creates a new auth handler. audit may be nil.
func NewHandler(authService AuthService, audit AuditRecorder) *Handler {
	return &Handler{
		authService: authService,
		audit:       audit,
	}
}

// LoginRequest represents login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=256"`
}

// Login exchanges credentials for an access token
// POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.authService.Login(c.Request.Context(), &auth.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.recordFailure(c, req.Username, err)
		response.FromError(c, err)
		return
	}

	if h.audit != nil {
		if err := h.audit.LogLoginSuccess(c.Request.Context(), output.User.UserID, c.ClientIP(), c.Request.UserAgent()); err != nil {
			logger.Warn("Failed to write audit event", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, output)
}

func (h *Handler) recordFailure(c *gin.Context, username string, err error) {
	if h.audit == nil {
		return
	}
	code := apperrors.GetAppError(err).Code
	if auditErr := h.audit.LogLoginFailed(c.Request.Context(), username, c.ClientIP(), c.Request.UserAgent(), string(code)); auditErr != nil {
		logger.Warn("Failed to write audit event", zap.Error(auditErr))
	}
}
