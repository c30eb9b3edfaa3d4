package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
)

// Provider delivers a notification to a batch of device tokens
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
	Link     string            `json:"link,omitempty"` // opened by web clients
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
	TokenTypeWeb  TokenType = "web"
)

// Valid reports whether t is a known token type
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeFCM, TokenTypeAPNs, TokenTypeWeb:
		return true
	}
	return false
}

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores and retrieves push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Update(ctx context.Context, token *Token) error
	Delete(ctx context.Context, userID, tokenID uuid.UUID) error
	MarkInactive(ctx context.Context, tokenID uuid.UUID) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken stores a device token, reactivating it when already known
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	now := time.Now().Unix()
	token.UpdatedAt = now

	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.UserID = token.UserID
		existing.Active = true
		existing.UpdatedAt = now
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		*token = *existing
		return s.repo.Update(ctx, existing)
	}

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.CreatedAt = now
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes one of the user's push tokens
func (s *Service) UnregisterToken(ctx context.Context, userID, tokenID uuid.UUID) error {
	return s.repo.Delete(ctx, userID, tokenID)
}

// SendToUsers delivers notification to every active token of the given users.
// Users without tokens are skipped; a provider failure is returned.
func (s *Service) SendToUsers(ctx context.Context, notification *Notification, userIDs ...uuid.UUID) (*SendResult, error) {
	var tokens []string
	for _, userID := range userIDs {
		userTokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		for _, t := range userTokens {
			if t.Active {
				tokens = append(tokens, t.Token)
			}
		}
	}

	if len(tokens) == 0 {
		logger.Debug("No active push tokens",
			zap.Int("user_count", len(userIDs)),
			zap.String("title", notification.Title))
		return &SendResult{}, nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to send push notification: %w", err)
	}

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}

	return result, nil
}

func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		token, err := s.repo.GetByToken(ctx, tokenStr)
		if err != nil || token == nil {
			continue
		}
		if err := s.repo.MarkInactive(ctx, token.ID); err != nil {
			logger.Warn("Failed to mark token as inactive",
				zap.String("token_id", token.ID.String()),
				zap.Error(err))
		}
	}
}

// MockProvider records notifications instead of delivering them
type MockProvider struct {
	mu   sync.Mutex
	Sent []*Notification
}

// Send implements Provider
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, notification)
	m.mu.Unlock()

	logger.Debug("MockProvider: sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Count returns how many notifications were sent
func (m *MockProvider) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// maskPushToken shows only the first and last 8 characters of a token
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}
