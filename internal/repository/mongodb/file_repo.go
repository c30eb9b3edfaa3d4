package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
)

type fileDocument struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"owner_id"`
	FileName    string    `bson:"file_name"`
	FileSize    int64     `bson:"file_size"`
	ContentType string    `bson:"content_type"`
	ObjectKey   string    `bson:"object_key"`
	CreatedAt   time.Time `bson:"created_at"`
}

// FileRepository handles file metadata documents
type FileRepository struct {
	coll *mongo.Collection
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *mongo.Database) *FileRepository {
	return &FileRepository{coll: db.Collection(database.CollectionFiles)}
}

// Create creates a new file metadata record
func (r *FileRepository) Create(ctx context.Context, file *domain.File) error {
	_, err := r.coll.InsertOne(ctx, &fileDocument{
		ID:          file.FileID.String(),
		OwnerID:     file.OwnerID.String(),
		FileName:    file.FileName,
		FileSize:    file.FileSize,
		ContentType: file.ContentType,
		ObjectKey:   file.ObjectKey,
		CreatedAt:   file.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by ID
func (r *FileRepository) GetByID(ctx context.Context, fileID uuid.UUID) (*domain.File, error) {
	var doc fileDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": fileID.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return &domain.File{
		FileID:      parseID(doc.ID),
		OwnerID:     parseID(doc.OwnerID),
		FileName:    doc.FileName,
		FileSize:    doc.FileSize,
		ContentType: doc.ContentType,
		ObjectKey:   doc.ObjectKey,
		CreatedAt:   doc.CreatedAt,
	}, nil
}
