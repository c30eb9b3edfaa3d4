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

type participantDocument struct {
	UserID         string     `bson:"user_id"`
	Role           string     `bson:"role"`
	JoinedAt       time.Time  `bson:"joined_at"`
	LeftAt         *time.Time `bson:"left_at,omitempty"`
	IsActive       bool       `bson:"is_active"`
	IsMuted        bool       `bson:"is_muted"`
	IsVideoEnabled bool       `bson:"is_video_enabled"`
}

type groupCallDocument struct {
	ID              string                `bson:"_id"`
	GroupID         string                `bson:"group_id"`
	InitiatorID     string                `bson:"initiator_id"`
	CallType        string                `bson:"call_type"`
	Status          string                `bson:"status"`
	RoomName        string                `bson:"room_name"`
	Participants    []participantDocument `bson:"participants"`
	StartTime       time.Time             `bson:"start_time"`
	EndTime         *time.Time            `bson:"end_time,omitempty"`
	Duration        int                   `bson:"duration"`
	MaxParticipants int                   `bson:"max_participants"`
	Version         int64                 `bson:"version"`
}

func newParticipantDocuments(ps []domain.Participant) []participantDocument {
	docs := make([]participantDocument, 0, len(ps))
	for _, p := range ps {
		docs = append(docs, participantDocument{
			UserID:         p.UserID.String(),
			Role:           p.Role,
			JoinedAt:       p.JoinedAt,
			LeftAt:         p.LeftAt,
			IsActive:       p.IsActive,
			IsMuted:        p.IsMuted,
			IsVideoEnabled: p.IsVideoEnabled,
		})
	}
	return docs
}

func newGroupCallDocument(g *domain.GroupCall) *groupCallDocument {
	return &groupCallDocument{
		ID:              g.CallID.String(),
		GroupID:         g.GroupID.String(),
		InitiatorID:     g.InitiatorID.String(),
		CallType:        string(g.CallType),
		Status:          string(g.Status),
		RoomName:        g.RoomName,
		Participants:    newParticipantDocuments(g.Participants),
		StartTime:       g.StartTime,
		EndTime:         g.EndTime,
		Duration:        g.Duration,
		MaxParticipants: g.MaxParticipants,
		Version:         g.Version,
	}
}

func (d *groupCallDocument) toDomain() *domain.GroupCall {
	g := &domain.GroupCall{
		CallID:          parseID(d.ID),
		GroupID:         parseID(d.GroupID),
		InitiatorID:     parseID(d.InitiatorID),
		CallType:        domain.CallType(d.CallType),
		Status:          domain.GroupCallStatus(d.Status),
		RoomName:        d.RoomName,
		Participants:    make([]domain.Participant, 0, len(d.Participants)),
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		Duration:        d.Duration,
		MaxParticipants: d.MaxParticipants,
		Version:         d.Version,
	}
	for _, p := range d.Participants {
		g.Participants = append(g.Participants, domain.Participant{
			UserID:         parseID(p.UserID),
			Role:           p.Role,
			JoinedAt:       p.JoinedAt,
			LeftAt:         p.LeftAt,
			IsActive:       p.IsActive,
			IsMuted:        p.IsMuted,
			IsVideoEnabled: p.IsVideoEnabled,
		})
	}
	return g
}

// GroupCallRepository handles group call documents
type GroupCallRepository struct {
	coll *mongo.Collection
}

// NewGroupCallRepository creates a new group call repository
func NewGroupCallRepository(db *mongo.Database) *GroupCallRepository {
	return &GroupCallRepository{coll: db.Collection(database.CollectionGroupCalls)}
}

// Create inserts a new group call at version 1
func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	call.Version = 1
	if _, err := r.coll.InsertOne(ctx, newGroupCallDocument(call)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create group call: %w", err)
	}
	return nil
}

// GetByID retrieves a group call by ID
func (r *GroupCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	var doc groupCallDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": callID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group call: %w", err)
	}
	return doc.toDomain(), nil
}

// Update replaces status and roster if the version is still current, then
// advances call.Version
func (r *GroupCallRepository) Update(ctx context.Context, call *domain.GroupCall) error {
	filter := bson.M{"_id": call.CallID.String(), "version": call.Version}
	set := bson.M{
		"status":       string(call.Status),
		"participants": newParticipantDocuments(call.Participants),
		"duration":     call.Duration,
		"version":      call.Version + 1,
	}
	update := bson.M{"$set": set}
	if call.EndTime != nil {
		set["end_time"] = *call.EndTime
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update group call: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": call.CallID.String()})
		if err != nil {
			return fmt.Errorf("failed to check group call: %w", err)
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}
	call.Version++
	return nil
}

// FindActiveByParticipant returns unended group calls in which userID is an
// active participant
func (r *GroupCallRepository) FindActiveByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.GroupCall, error) {
	filter := bson.M{
		"status": bson.M{"$ne": string(domain.GroupCallStatusEnded)},
		"participants": bson.M{"$elemMatch": bson.M{
			"user_id":   userID.String(),
			"is_active": true,
		}},
	}

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query group calls: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []groupCallDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode group calls: %w", err)
	}

	calls := make([]*domain.GroupCall, 0, len(docs))
	for i := range docs {
		calls = append(calls, docs[i].toDomain())
	}
	return calls, nil
}
