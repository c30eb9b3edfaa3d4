package groupcall

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/groupcall"
	"teamchat-backend/pkg/response"
)

// GroupCallService is the group call controller shared with the realtime gateway
type GroupCallService interface {
	Initiate(ctx context.Context, input *groupcall.InitiateInput) (*domain.GroupCall, error)
	Join(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error)
	Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error)
	End(ctx context.Context, callID, actorID uuid.UUID) (*domain.GroupCall, error)
	UpdateParticipantStatus(ctx context.Context, callID, actorID uuid.UUID, input groupcall.StatusInput) (*domain.GroupCall, error)
	Get(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error)
}

// Handler handles group call HTTP requests
type Handler struct {
	groupCallService GroupCallService
}

// NewHandler creates a new group call handler
func NewHandler(groupCallService GroupCallService) *Handler {
	return &Handler{
		groupCallService: groupCallService,
	}
}

// InitiateGroupCallRequest represents group call initiation request
type InitiateGroupCallRequest struct {
	GroupID  string `json:"group_id" binding:"required,uuid"`
	CallType string `json:"call_type" binding:"required,oneof=voice video"`
	CallID   string `json:"call_id" binding:"omitempty,uuid"`
}

// ParticipantStatusRequest updates a roster entry. Omitted fields are unchanged.
type ParticipantStatusRequest struct {
	IsMuted        *bool `json:"is_muted"`
	IsVideoEnabled *bool `json:"is_video_enabled"`
}

// InitiateGroupCall starts a group call in a group
// POST /v1/group-calls
func (h *Handler) InitiateGroupCall(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req InitiateGroupCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	input := &groupcall.InitiateInput{
		InitiatorID: userID,
		GroupID:     uuid.MustParse(req.GroupID),
		CallType:    domain.CallType(req.CallType),
	}
	if req.CallID != "" {
		input.CallID = uuid.MustParse(req.CallID)
	}

	result, err := h.groupCallService.Initiate(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// JoinGroupCall adds the user to the roster
// POST /v1/group-calls/:id/join
func (h *Handler) JoinGroupCall(c *gin.Context) {
	h.transition(c, h.groupCallService.Join)
}

// LeaveGroupCall removes the user from the roster
// POST /v1/group-calls/:id/leave
func (h *Handler) LeaveGroupCall(c *gin.Context) {
	h.transition(c, h.groupCallService.Leave)
}

// EndGroupCall ends the call for everyone. Host only.
// POST /v1/group-calls/:id/end
func (h *Handler) EndGroupCall(c *gin.Context) {
	h.transition(c, h.groupCallService.End)
}

// GetGroupCall returns a group call visible to the user
// GET /v1/group-calls/:id
func (h *Handler) GetGroupCall(c *gin.Context) {
	h.transition(c, h.groupCallService.Get)
}

// UpdateParticipant changes mute or video state of a participant
// PATCH /v1/group-calls/:id/participants/:userId
func (h *Handler) UpdateParticipant(c *gin.Context) {
	callID, actorID, ok := callAndUser(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	var req ParticipantStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if req.IsMuted == nil && req.IsVideoEnabled == nil {
		response.ValidationError(c, "is_muted or is_video_enabled is required")
		return
	}

	result, err := h.groupCallService.UpdateParticipantStatus(c.Request.Context(), callID, actorID, groupcall.StatusInput{
		TargetUserID:   targetID,
		IsMuted:        req.IsMuted,
		IsVideoEnabled: req.IsVideoEnabled,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error)) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	result, err := op(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
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
