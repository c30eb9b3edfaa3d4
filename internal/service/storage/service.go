package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/blob"
	"teamchat-backend/pkg/constants"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/resilience"
	"teamchat-backend/pkg/sanitize"
)

const defaultContentType = "application/octet-stream"

// FileRepository interface
type FileRepository interface {
	Create(ctx context.Context, file *domain.File) error
	GetByID(ctx context.Context, fileID uuid.UUID) (*domain.File, error)
}

// Service stores message attachments and avatars. Object bytes live in the
// blob store and metadata in the file repository.
type Service struct {
	store   blob.Store
	files   FileRepository
	maxSize int64
	now     func() time.Time
}

// NewService creates a new storage service
func NewService(store blob.Store, files FileRepository) *Service {
	return &Service{
		store:   store,
		files:   files,
		maxSize: constants.MaxUploadSize,
		now:     time.Now,
	}
}

// UploadInput describes one uploaded file
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload stores the object first and its metadata second, so a metadata row
// never points at a missing object
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, input *UploadInput) (*domain.FileUploadResponse, error) {
	if input == nil || input.Body == nil {
		return nil, apperrors.MissingFieldError("file")
	}
	if input.Size <= 0 {
		return nil, apperrors.ValidationError("File is empty")
	}
	if input.Size > s.maxSize {
		return nil, apperrors.ValidationError(fmt.Sprintf("File exceeds %d bytes", s.maxSize))
	}

	name := sanitize.SanitizeFilename(input.FileName)
	if name == "" || !sanitize.ValidateStringLength(name, 1, 255) {
		return nil, apperrors.InvalidInputError("Invalid file name")
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	fileID := uuid.New()
	file := &domain.File{
		FileID:      fileID,
		OwnerID:     ownerID,
		FileName:    name,
		FileSize:    input.Size,
		ContentType: contentType,
		ObjectKey:   fmt.Sprintf("users/%s/%s", ownerID, fileID),
		CreatedAt:   s.now().UTC(),
	}

	if err := s.store.Put(ctx, file.ObjectKey, input.Body, file.FileSize, file.ContentType); err != nil {
		return nil, storeError(err)
	}
	if err := s.files.Create(ctx, file); err != nil {
		logger.Warn("Stored object without metadata",
			zap.String("object_key", file.ObjectKey),
			zap.Error(err))
		return nil, apperrors.DatabaseError(err)
	}

	logger.Info("File uploaded",
		zap.String("file_id", fileID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.Int64("size", file.FileSize))

	return &domain.FileUploadResponse{
		FileID:      file.FileID,
		FileName:    file.FileName,
		FileSize:    file.FileSize,
		ContentType: file.ContentType,
	}, nil
}

// GetDownloadURL returns a presigned URL for a stored file. File IDs are
// shared in conversations, so any authenticated user may resolve them.
func (s *Service) GetDownloadURL(ctx context.Context, fileID uuid.UUID) (*domain.FileDownloadURLResponse, error) {
	file, err := s.lookup(ctx, fileID)
	if err != nil {
		return nil, err
	}

	url, err := s.store.PresignGet(ctx, file.ObjectKey, constants.PresignedURLExpiry)
	if err != nil {
		return nil, storeError(err)
	}

	return &domain.FileDownloadURLResponse{
		FileID:      file.FileID,
		DownloadURL: url,
		FileSize:    file.FileSize,
		ContentType: file.ContentType,
		ExpiresAt:   s.now().Add(constants.PresignedURLExpiry).UTC(),
	}, nil
}

// Open streams a stored file. The caller must close the returned reader.
func (s *Service) Open(ctx context.Context, fileID uuid.UUID) (io.ReadCloser, *domain.File, error) {
	file, err := s.lookup(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	body, _, err := s.store.Get(ctx, file.ObjectKey)
	if err != nil {
		return nil, nil, storeError(err)
	}
	return body, file, nil
}

func (s *Service) lookup(ctx context.Context, fileID uuid.UUID) (*domain.File, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.FileNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return file, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return apperrors.FileNotFoundError()
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.ServiceUnavailableError("File storage is temporarily unavailable")
	}
	return apperrors.StorageError(err)
}
