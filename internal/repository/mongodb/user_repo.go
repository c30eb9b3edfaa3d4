package mongodb

import (
	"context"
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

type userDocument struct {
	ID                 string     `bson:"_id"`
	Username           string     `bson:"username"`
	PasswordHash       string     `bson:"password_hash"`
	DisplayName        string     `bson:"display_name"`
	AvatarURL          *string    `bson:"avatar_url,omitempty"`
	Role               string     `bson:"role"`
	Status             string     `bson:"status"`
	ScheduledDisableAt *time.Time `bson:"scheduled_disable_at,omitempty"`
	ScheduledEnableAt  *time.Time `bson:"scheduled_enable_at,omitempty"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

func (d *userDocument) toDomain() *domain.User {
	return &domain.User{
		UserID:             parseID(d.ID),
		Username:           d.Username,
		PasswordHash:       d.PasswordHash,
		DisplayName:        d.DisplayName,
		AvatarURL:          d.AvatarURL,
		Role:               d.Role,
		Status:             d.Status,
		ScheduledDisableAt: d.ScheduledDisableAt,
		ScheduledEnableAt:  d.ScheduledEnableAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// UserRepository handles user documents
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(database.CollectionUsers)}
}

// Create inserts a user
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	doc := &userDocument{
		ID:                 user.UserID.String(),
		Username:           user.Username,
		PasswordHash:       user.PasswordHash,
		DisplayName:        user.DisplayName,
		AvatarURL:          user.AvatarURL,
		Role:               user.Role,
		Status:             user.Status,
		ScheduledDisableAt: user.ScheduledDisableAt,
		ScheduledEnableAt:  user.ScheduledEnableAt,
		CreatedAt:          user.CreatedAt,
		UpdatedAt:          user.UpdatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": userID.String()})
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

// GetByIDs retrieves the users that exist among userIDs, keyed by id
func (r *UserRepository) GetByIDs(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.User, error) {
	users := make(map[uuid.UUID]*domain.User, len(userIDs))
	if len(userIDs) == 0 {
		return users, nil
	}

	ids := make(bson.A, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id.String())
	}

	docs, err := r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for _, u := range docs {
		users[u.UserID] = u
	}
	return users, nil
}

// FindDueSchedules returns users whose scheduled disable or enable time has
// been reached
func (r *UserRepository) FindDueSchedules(ctx context.Context, now time.Time) ([]*domain.User, error) {
	return r.find(ctx, bson.M{"$or": bson.A{
		bson.M{"scheduled_disable_at": bson.M{"$lte": now}},
		bson.M{"scheduled_enable_at": bson.M{"$lte": now}},
	}})
}

// ApplySchedule sets the account status and clears the schedule fields
// that were applied
func (r *UserRepository) ApplySchedule(ctx context.Context, userID uuid.UUID, status string, clearDisable, clearEnable bool, now time.Time) error {
	update := bson.M{"$set": bson.M{"status": status, "updated_at": now}}
	unset := bson.M{}
	if clearDisable {
		unset["scheduled_disable_at"] = ""
	}
	if clearEnable {
		unset["scheduled_enable_at"] = ""
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID.String()}, update)
	if err != nil {
		return fmt.Errorf("failed to apply account schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetSchedule replaces the pending disable and enable times. A nil time
// clears that side of the schedule.
func (r *UserRepository) SetSchedule(ctx context.Context, userID uuid.UUID, disableAt, enableAt *time.Time, now time.Time) error {
	set := bson.M{"updated_at": now}
	unset := bson.M{}
	if disableAt != nil {
		set["scheduled_disable_at"] = disableAt.UTC()
	} else {
		unset["scheduled_disable_at"] = ""
	}
	if enableAt != nil {
		set["scheduled_enable_at"] = enableAt.UTC()
	} else {
		unset["scheduled_enable_at"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID.String()}, update)
	if err != nil {
		return fmt.Errorf("failed to set account schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) find(ctx context.Context, filter bson.M) ([]*domain.User, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"password_hash": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]*domain.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toDomain())
	}
	return users, nil
}
