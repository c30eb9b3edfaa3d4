package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"teamchat-backend/pkg/config"
)

// Collection names
const (
	CollectionUsers      = "users"
	CollectionGroups     = "groups"
	CollectionCalls      = "calls"
	CollectionGroupCalls = "group_calls"
	CollectionFiles      = "files"
)

// MongoDB wraps the document store client and database handle
type MongoDB struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// NewMongoDB connects to MongoDB and verifies the connection
func NewMongoDB(ctx context.Context, cfg config.MongoConfig) (*MongoDB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetTimeout(cfg.Timeout)

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDB{
		Client: client,
		DB:     client.Database(cfg.Database),
	}, nil
}

// Ping checks the database connection
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repositories query on
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollectionUsers: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "scheduled_disable_at", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "scheduled_enable_at", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		CollectionGroups: {
			{Keys: bson.D{{Key: "members.user_id", Value: 1}}},
		},
		CollectionCalls: {
			{Keys: bson.D{{Key: "caller_id", Value: 1}, {Key: "start_time", Value: -1}}},
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "start_time", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "start_time", Value: 1}}},
		},
		CollectionGroupCalls: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "participants.user_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		CollectionFiles: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for name, models := range indexes {
		if _, err := m.DB.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}
