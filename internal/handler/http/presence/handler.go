package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/response"
)

// Directory lists online users
type Directory interface {
	ListOnline(ctx context.Context) ([]domain.PresenceEntry, error)
}

// Handler serves presence over HTTP for clients without a socket
type Handler struct {
	directory Directory
}

// NewHandler creates a new presence handler
func NewHandler(directory Directory) *Handler {
	return &Handler{directory: directory}
}

// GetOnlineUsers returns the users connected to this node
// GET /v1/presence/online
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	online, err := h.directory.ListOnline(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"users": online,
		"count": len(online),
	})
}
