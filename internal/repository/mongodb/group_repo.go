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

type groupMemberDocument struct {
	UserID   string    `bson:"user_id"`
	Role     string    `bson:"role"`
	JoinedAt time.Time `bson:"joined_at"`
}

type groupDocument struct {
	ID        string                `bson:"_id"`
	Name      string                `bson:"name"`
	Members   []groupMemberDocument `bson:"members"`
	CreatedBy string                `bson:"created_by"`
	CreatedAt time.Time             `bson:"created_at"`
}

// GroupRepository reads chat groups. Group management lives elsewhere; call
// signaling only needs membership and roles.
type GroupRepository struct {
	coll *mongo.Collection
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *mongo.Database) *GroupRepository {
	return &GroupRepository{coll: db.Collection(database.CollectionGroups)}
}

// GetByID retrieves a group with its members
func (r *GroupRepository) GetByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	var doc groupDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": groupID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	g := &domain.Group{
		GroupID:   parseID(doc.ID),
		Name:      doc.Name,
		Members:   make([]domain.GroupMember, 0, len(doc.Members)),
		CreatedBy: parseID(doc.CreatedBy),
		CreatedAt: doc.CreatedAt,
	}
	for _, m := range doc.Members {
		g.Members = append(g.Members, domain.GroupMember{
			UserID:   parseID(m.UserID),
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		})
	}
	return g, nil
}
