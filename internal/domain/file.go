package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileUploadResponse is returned after an attachment or avatar is stored
type FileUploadResponse struct {
	FileID      uuid.UUID `json:"file_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
}

// FileDownloadURLResponse contains presigned download URL
type FileDownloadURLResponse struct {
	FileID      uuid.UUID `json:"file_id"`
	DownloadURL string    `json:"download_url"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// File is the metadata of an object held in blob storage
type File struct {
	FileID      uuid.UUID `json:"file_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
