package call

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/call"
	"teamchat-backend/pkg/pagination"
	"teamchat-backend/pkg/response"
)

// CallService is the 1:1 call controller shared with the realtime gateway
type CallService interface {
	Initiate(ctx context.Context, input *call.InitiateInput) (*domain.Call, error)
	Answer(ctx context.Context, callID, answererID uuid.UUID, answer json.RawMessage) (*domain.Call, error)
	Decline(ctx context.Context, callID, declinerID uuid.UUID) (*domain.Call, error)
	End(ctx context.Context, callID, enderID uuid.UUID) (*domain.Call, error)
	Get(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// Handler handles 1:1 call HTTP requests
type Handler struct {
	callService CallService
}

// NewHandler creates a new call handler
func NewHandler(callService CallService) *Handler {
	return &Handler{
		callService: callService,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
	CallType   string `json:"call_type" binding:"required,oneof=voice video"`
	CallID     string `json:"call_id" binding:"omitempty,uuid"`
}

// AnswerCallRequest carries the optional SDP answer
type AnswerCallRequest struct {
	Answer json.RawMessage `json:"answer"`
}

// InitiateCall rings the receiver
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	input := &call.InitiateInput{
		CallerID:   callerID,
		ReceiverID: uuid.MustParse(req.ReceiverID),
		CallType:   domain.CallType(req.CallType),
	}
	if req.CallID != "" {
		input.CallID = uuid.MustParse(req.CallID)
	}

	result, err := h.callService.Initiate(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// AnswerCall accepts an incoming call
// POST /v1/calls/:id/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	callID, userID, ok := h.callAndUser(c)
	if !ok {
		return
	}

	var req AnswerCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	result, err := h.callService.Answer(c.Request.Context(), callID, userID, req.Answer)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// DeclineCall rejects an incoming call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	callID, userID, ok := h.callAndUser(c)
	if !ok {
		return
	}

	result, err := h.callService.Decline(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// EndCall terminates a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, userID, ok := h.callAndUser(c)
	if !ok {
		return
	}

	result, err := h.callService.End(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetCall returns a call the user took part in
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := h.callAndUser(c)
	if !ok {
		return
	}

	result, err := h.callService.Get(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetHistory lists the user's calls, newest first
// GET /v1/calls/history?page=1&limit=20
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	params, err := pagination.ParseParams(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.callService.History(c.Request.Context(), userID, params.Limit+1, params.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildPage(params, calls))
}

func (h *Handler) callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}
