// Package mongodb implements the repositories on top of MongoDB. Ids are
// stored as canonical UUID strings.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
)

type callDocument struct {
	ID            string     `bson:"_id"`
	CallerID      string     `bson:"caller_id"`
	ReceiverID    string     `bson:"receiver_id"`
	CallType      string     `bson:"call_type"`
	Status        string     `bson:"status"`
	RoomName      string     `bson:"room_name"`
	Offer         string     `bson:"offer,omitempty"`
	Answer        string     `bson:"answer,omitempty"`
	IceCandidates []string   `bson:"ice_candidates,omitempty"`
	StartTime     time.Time  `bson:"start_time"`
	EndTime       *time.Time `bson:"end_time,omitempty"`
	Duration      int        `bson:"duration"`
	Version       int64      `bson:"version"`
}

func newCallDocument(c *domain.Call) *callDocument {
	doc := &callDocument{
		ID:         c.CallID.String(),
		CallerID:   c.CallerID.String(),
		ReceiverID: c.ReceiverID.String(),
		CallType:   string(c.CallType),
		Status:     string(c.Status),
		RoomName:   c.RoomName,
		Offer:      string(c.Offer),
		Answer:     string(c.Answer),
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
		Duration:   c.Duration,
		Version:    c.Version,
	}
	for _, cand := range c.IceCandidates {
		doc.IceCandidates = append(doc.IceCandidates, string(cand))
	}
	return doc
}

func (d *callDocument) toDomain() *domain.Call {
	c := &domain.Call{
		CallID:     parseID(d.ID),
		CallerID:   parseID(d.CallerID),
		ReceiverID: parseID(d.ReceiverID),
		CallType:   domain.CallType(d.CallType),
		Status:     domain.CallStatus(d.Status),
		RoomName:   d.RoomName,
		StartTime:  d.StartTime,
		EndTime:    d.EndTime,
		Duration:   d.Duration,
		Version:    d.Version,
	}
	if d.Offer != "" {
		c.Offer = json.RawMessage(d.Offer)
	}
	if d.Answer != "" {
		c.Answer = json.RawMessage(d.Answer)
	}
	for _, cand := range d.IceCandidates {
		c.IceCandidates = append(c.IceCandidates, json.RawMessage(cand))
	}
	return c
}

var liveCallStatuses = []string{
	string(domain.CallStatusInitiated),
	string(domain.CallStatusRinging),
	string(domain.CallStatusAnswered),
}

// CallRepository handles 1:1 call documents
type CallRepository struct {
	coll *mongo.Collection
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *mongo.Database) *CallRepository {
	return &CallRepository{coll: db.Collection(database.CollectionCalls)}
}

// Create inserts a new call at version 1
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	call.Version = 1
	if _, err := r.coll.InsertOne(ctx, newCallDocument(call)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	var doc callDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": callID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return doc.toDomain(), nil
}

// Update writes the state-defining fields of call if its version is still
// current, then advances call.Version. The offer and ICE candidates are
// written only by their own atomic setters.
func (r *CallRepository) Update(ctx context.Context, call *domain.Call) error {
	filter := bson.M{"_id": call.CallID.String(), "version": call.Version}
	set := bson.M{
		"status":   string(call.Status),
		"duration": call.Duration,
		"version":  call.Version + 1,
	}
	if len(call.Answer) > 0 {
		set["answer"] = string(call.Answer)
	}
	if call.EndTime != nil {
		set["end_time"] = *call.EndTime
	}

	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	if res.MatchedCount == 0 {
		return r.missOrConflict(ctx, call.CallID)
	}
	call.Version++
	return nil
}

// SaveOffer records the latest SDP offer without touching the version
func (r *CallRepository) SaveOffer(ctx context.Context, callID uuid.UUID, offer json.RawMessage) error {
	return r.setField(ctx, callID, "offer", string(offer))
}

// SaveAnswer records the latest SDP answer without touching the version
func (r *CallRepository) SaveAnswer(ctx context.Context, callID uuid.UUID, answer json.RawMessage) error {
	return r.setField(ctx, callID, "answer", string(answer))
}

func (r *CallRepository) setField(ctx context.Context, callID uuid.UUID, field, value string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": callID.String()},
		bson.M{"$set": bson.M{field: value}},
	)
	if err != nil {
		return fmt.Errorf("failed to save call %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendIceCandidate atomically appends a candidate to the audit list
func (r *CallRepository) AppendIceCandidate(ctx context.Context, callID uuid.UUID, candidate json.RawMessage) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": callID.String()},
		bson.M{"$push": bson.M{"ice_candidates": string(candidate)}},
	)
	if err != nil {
		return fmt.Errorf("failed to append ice candidate: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindActiveByParticipant returns the user's calls that have not reached a
// terminal status
func (r *CallRepository) FindActiveByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"caller_id": userID.String()},
			bson.M{"receiver_id": userID.String()},
		},
		"status": bson.M{"$in": liveCallStatuses},
	}
	return r.find(ctx, filter, options.Find())
}

// FindUnansweredBefore returns calls still ringing that started before cutoff
func (r *CallRepository) FindUnansweredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error) {
	filter := bson.M{
		"status": bson.M{"$in": bson.A{
			string(domain.CallStatusInitiated),
			string(domain.CallStatusRinging),
		}},
		"start_time": bson.M{"$lt": cutoff},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, filter, opts)
}

// GetUserCalls retrieves the user's calls, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"caller_id": userID.String()},
			bson.M{"receiver_id": userID.String()},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"ice_candidates": 0, "offer": 0, "answer": 0})
	return r.find(ctx, filter, opts)
}

func (r *CallRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.Call, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []callDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode calls: %w", err)
	}

	calls := make([]*domain.Call, 0, len(docs))
	for i := range docs {
		calls = append(calls, docs[i].toDomain())
	}
	return calls, nil
}

func (r *CallRepository) missOrConflict(ctx context.Context, callID uuid.UUID) error {
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": callID.String()})
	if err != nil {
		return fmt.Errorf("failed to check call: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrVersionConflict
}

func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
