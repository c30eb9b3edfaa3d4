// Package blob stores opaque objects (message attachments, avatars) in an
// S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"teamchat-backend/pkg/config"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("object not found")

// Info describes a stored object
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the object storage contract used by the file handlers
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *Info, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// NewStore builds the backend selected by BLOB_BACKEND
func NewStore(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "minio":
		return NewMinioStore(ctx, cfg.MinIO)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
