package storage

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/service/storage"
	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/response"
)

// multipart framing allowance on top of the file itself
const formOverhead = 1 << 20

// FileService stores and serves files
type FileService interface {
	Upload(ctx context.Context, ownerID uuid.UUID, input *storage.UploadInput) (*domain.FileUploadResponse, error)
	GetDownloadURL(ctx context.Context, fileID uuid.UUID) (*domain.FileDownloadURLResponse, error)
	Open(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, *domain.File, error)
}

// UploadAuditor records uploads
type UploadAuditor interface {
	LogFileUpload(ctx context.Context, userID, fileID uuid.UUID, ipAddress, userAgent string) error
}

// Handler handles file HTTP requests
type Handler struct {
	fileService FileService
	audit       UploadAuditor
}

// NewHandler creates a new file handler. audit may be nil.
func NewHandler(fileService FileService, audit UploadAuditor) *Handler {
	return &Handler{
		fileService: fileService,
		audit:       audit,
	}
}

// UploadFile stores the multipart field "file"
// POST /v1/files
func (h *Handler) UploadFile(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxUploadSize+formOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		response.ValidationError(c, "file is required and must not exceed the upload limit")
		return
	}

	f, err := header.Open()
	if err != nil {
		response.ValidationError(c, "Unreadable upload")
		return
	}
	defer f.Close()

	result, err := h.fileService.Upload(c.Request.Context(), userID, &storage.UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	if h.audit != nil {
		if err := h.audit.LogFileUpload(c.Request.Context(), userID, result.FileID, c.ClientIP(), c.Request.UserAgent()); err != nil {
			logger.Warn("Failed to write audit event", zap.Error(err))
		}
	}

	response.Success(c, http.StatusCreated, result)
}

// GetFile returns a presigned download URL
// GET /v1/files/:id
func (h *Handler) GetFile(c *gin.Context) {
	fileID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid file ID")
		return
	}

	result, err := h.fileService.GetDownloadURL(c.Request.Context(), fileID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetFileContent streams the file through the server for clients that
// cannot reach the object store
// GET /v1/files/:id/content
func (h *Handler) GetFileContent(c *gin.Context) {
	fileID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid file ID")
		return
	}

	body, file, err := h.fileService.Open(c.Request.Context(), fileID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, file.FileSize, file.ContentType, body, map[string]string{
		"Content-Disposition": "attachment; filename=" + strconv.Quote(file.FileName),
	})
}
