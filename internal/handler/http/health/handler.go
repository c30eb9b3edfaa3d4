package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency
type Check func(ctx context.Context) error

// Handler reports service and dependency health
type Handler struct {
	service string
	checks  map[string]Check
}

// NewHandler creates a new health handler
func NewHandler(service string, checks map[string]Check) *Handler {
	return &Handler{service: service, checks: checks}
}

// Health reports healthy only when every check passes
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"service":      h.service,
		"dependencies": results,
		"time":         time.Now().UTC(),
	})
}
