package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/push"
)

// PushTokenRepository handles push notification token storage in Redis.
//
// Keys:
//
//	push:token:{token}        JSON token record
//	push:id:{tokenID}         token value, for lookups by id
//	push:user:{userID}:tokens set of token values
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(token string) string      { return fmt.Sprintf("push:token:%s", token) }
func tokenIDKey(id uuid.UUID) string    { return fmt.Sprintf("push:id:%s", id) }
func userTokensKey(id uuid.UUID) string { return fmt.Sprintf("push:user:%s:tokens", id) }
func isNil(err error) bool              { return errors.Is(err, redis.Nil) }

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.Token), data, 0)
	pipe.Set(ctx, tokenIDKey(token.ID), token.Token, 0)
	pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
	pipe.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	logger.Debug("Push token stored",
		zap.String("token_id", token.ID.String()),
		zap.String("user_id", token.UserID.String()),
		zap.String("token_type", string(token.Type)))

	return nil
}

// GetByToken retrieves a token by its value. It returns nil when unknown.
func (r *PushTokenRepository) GetByToken(ctx context.Context, tokenStr string) (*push.Token, error) {
	data, err := r.client.Get(ctx, tokenKey(tokenStr)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token push.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	tokens, err := r.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var result []*push.Token
	for _, tokenStr := range tokens {
		token, err := r.GetByToken(ctx, tokenStr)
		if err != nil {
			logger.Warn("Failed to get token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		// a token re-registered by another user stays in the old set until cleanup
		if token != nil && token.UserID == userID {
			result = append(result, token)
		}
	}
	return result, nil
}

// Update updates an existing token
func (r *PushTokenRepository) Update(ctx context.Context, token *push.Token) error {
	token.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.Token), data, 0)
	pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
	pipe.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// Delete removes one of userID's tokens. Tokens owned by someone else are
// reported as not found.
func (r *PushTokenRepository) Delete(ctx context.Context, userID, tokenID uuid.UUID) error {
	token, err := r.getByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if token == nil || token.UserID != userID {
		return domain.ErrNotFound
	}

	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, userTokensKey(userID), token.Token)
	pipe.Del(ctx, tokenKey(token.Token), tokenIDKey(tokenID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	logger.Debug("Push token deleted",
		zap.String("token_id", tokenID.String()),
		zap.String("user_id", userID.String()))
	return nil
}

// MarkInactive marks a token as inactive
func (r *PushTokenRepository) MarkInactive(ctx context.Context, tokenID uuid.UUID) error {
	token, err := r.getByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if token == nil {
		return nil
	}
	token.Active = false
	return r.Update(ctx, token)
}

func (r *PushTokenRepository) getByID(ctx context.Context, tokenID uuid.UUID) (*push.Token, error) {
	tokenStr, err := r.client.Get(ctx, tokenIDKey(tokenID)).Result()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve token id: %w", err)
	}
	return r.GetByToken(ctx, tokenStr)
}
