package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/blob"
	"teamchat-backend/pkg/constants"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/resilience"
)

// Mocks
type MockFileRepository struct {
	mock.Mock
}

func (m *MockFileRepository) Create(ctx context.Context, file *domain.File) error {
	args := m.Called(ctx, file)
	return args.Error(0)
}

func (m *MockFileRepository) GetByID(ctx context.Context, fileID uuid.UUID) (*domain.File, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.File), args.Error(1)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return m.Called(ctx, key, r, size, contentType).Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *blob.Info, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(*blob.Info), args.Error(2)
}

func (m *MockBlobStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}

func newTestService() (*Service, *MockBlobStore, *MockFileRepository) {
	store := new(MockBlobStore)
	files := new(MockFileRepository)
	svc := NewService(store, files)
	svc.now = func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }
	return svc, store, files
}

func TestUpload_Success(t *testing.T) {
	svc, store, files := newTestService()
	ownerID := uuid.New()
	body := strings.NewReader("hello")

	store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "users/"+ownerID.String()+"/")
	}), body, int64(5), "text/plain").Return(nil)
	files.On("Create", mock.Anything, mock.MatchedBy(func(f *domain.File) bool {
		return f.OwnerID == ownerID && f.FileName == "notes.txt" && f.ObjectKey == "users/"+ownerID.String()+"/"+f.FileID.String()
	})).Return(nil)

	resp, err := svc.Upload(context.Background(), ownerID, &UploadInput{
		FileName:    "../notes.txt",
		ContentType: "text/plain",
		Size:        5,
		Body:        body,
	})

	require.NoError(t, err)
	assert.Equal(t, "notes.txt", resp.FileName)
	assert.Equal(t, int64(5), resp.FileSize)
	assert.NotEqual(t, uuid.Nil, resp.FileID)
	store.AssertExpectations(t)
	files.AssertExpectations(t)
}

func TestUpload_DefaultsContentType(t *testing.T) {
	svc, store, files := newTestService()
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, int64(3), defaultContentType).Return(nil)
	files.On("Create", mock.Anything, mock.Anything).Return(nil)

	resp, err := svc.Upload(context.Background(), uuid.New(), &UploadInput{FileName: "a.bin", Size: 3, Body: strings.NewReader("abc")})

	require.NoError(t, err)
	assert.Equal(t, defaultContentType, resp.ContentType)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		input    *UploadInput
		wantCode apperrors.ErrorCode
	}{
		{"no body", &UploadInput{FileName: "a.txt", Size: 1}, apperrors.ErrCodeMissingField},
		{"empty", &UploadInput{FileName: "a.txt", Size: 0, Body: strings.NewReader("")}, apperrors.ErrCodeValidation},
		{"too large", &UploadInput{FileName: "a.txt", Size: constants.MaxUploadSize + 1, Body: strings.NewReader("x")}, apperrors.ErrCodeValidation},
		{"bad name", &UploadInput{FileName: "..", Size: 1, Body: strings.NewReader("x")}, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, files := newTestService()

			_, err := svc.Upload(context.Background(), uuid.New(), tt.input)

			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
			store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			files.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestUpload_StoreFailures(t *testing.T) {
	t.Run("object store down", func(t *testing.T) {
		svc, store, files := newTestService()
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("503"))

		_, err := svc.Upload(context.Background(), uuid.New(), &UploadInput{FileName: "a", Size: 1, Body: strings.NewReader("x")})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorage))
		files.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("breaker open", func(t *testing.T) {
		svc, store, _ := newTestService()
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(fmt.Errorf("blob put: %w", resilience.ErrCircuitOpen))

		_, err := svc.Upload(context.Background(), uuid.New(), &UploadInput{FileName: "a", Size: 1, Body: strings.NewReader("x")})

		appErr := apperrors.GetAppError(err)
		assert.Equal(t, apperrors.ErrCodeServiceUnavail, appErr.Code)
		assert.Equal(t, 503, appErr.StatusCode)
	})

	t.Run("metadata write fails", func(t *testing.T) {
		svc, store, files := newTestService()
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		files.On("Create", mock.Anything, mock.Anything).Return(errors.New("write concern"))

		_, err := svc.Upload(context.Background(), uuid.New(), &UploadInput{FileName: "a", Size: 1, Body: strings.NewReader("x")})

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	})
}

func TestGetDownloadURL(t *testing.T) {
	file := &domain.File{FileID: uuid.New(), ObjectKey: "users/x/y", FileSize: 9, ContentType: "image/png"}

	t.Run("presigned", func(t *testing.T) {
		svc, store, files := newTestService()
		files.On("GetByID", mock.Anything, file.FileID).Return(file, nil)
		store.On("PresignGet", mock.Anything, file.ObjectKey, constants.PresignedURLExpiry).Return("https://blob/y?sig=1", nil)

		resp, err := svc.GetDownloadURL(context.Background(), file.FileID)

		require.NoError(t, err)
		assert.Equal(t, "https://blob/y?sig=1", resp.DownloadURL)
		assert.Equal(t, svc.now().Add(constants.PresignedURLExpiry), resp.ExpiresAt)
		assert.Equal(t, "image/png", resp.ContentType)
	})

	t.Run("unknown file", func(t *testing.T) {
		svc, _, files := newTestService()
		files.On("GetByID", mock.Anything, file.FileID).Return(nil, domain.ErrNotFound)

		_, err := svc.GetDownloadURL(context.Background(), file.FileID)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileNotFound))
	})

	t.Run("metadata lookup fails", func(t *testing.T) {
		svc, _, files := newTestService()
		files.On("GetByID", mock.Anything, file.FileID).Return(nil, errors.New("timeout"))

		_, err := svc.GetDownloadURL(context.Background(), file.FileID)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	})
}

func TestOpen(t *testing.T) {
	file := &domain.File{FileID: uuid.New(), ObjectKey: "users/x/y"}

	t.Run("streams the object", func(t *testing.T) {
		svc, store, files := newTestService()
		files.On("GetByID", mock.Anything, file.FileID).Return(file, nil)
		store.On("Get", mock.Anything, file.ObjectKey).
			Return(io.NopCloser(strings.NewReader("bytes")), &blob.Info{Key: file.ObjectKey}, nil)

		body, got, err := svc.Open(context.Background(), file.FileID)

		require.NoError(t, err)
		defer body.Close()
		data, _ := io.ReadAll(body)
		assert.Equal(t, "bytes", string(data))
		assert.Equal(t, file, got)
	})

	t.Run("object missing from store", func(t *testing.T) {
		svc, store, files := newTestService()
		files.On("GetByID", mock.Anything, file.FileID).Return(file, nil)
		store.On("Get", mock.Anything, file.ObjectKey).Return(nil, nil, blob.ErrNotFound)

		_, _, err := svc.Open(context.Background(), file.FileID)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileNotFound))
	})
}
