// Package user serves user profiles to the realtime and REST layers from a
// short-lived in-memory cache in front of the user repository.
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/presence"
	"teamchat-backend/pkg/cache"
	"teamchat-backend/pkg/constants"
)

// UserRepository interface
type UserRepository interface {
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.User, error)
}

// OnlineLister lists the users that currently hold a presence entry
type OnlineLister interface {
	ListAll() []presence.Entry
}

// Service is the cached user directory
type Service struct {
	repo   UserRepository
	online OnlineLister
	cache  *cache.MemoryCache
}

// NewService creates a new user directory
func NewService(repo UserRepository, online OnlineLister) *Service {
	return &Service{
		repo:   repo,
		online: online,
		cache:  cache.NewMemoryCache(constants.UserCacheTTL, constants.UserCacheSize),
	}
}

// StartCleanup evicts expired profiles every interval until the returned
// stop function is called
func (s *Service) StartCleanup(interval time.Duration) func() {
	return s.cache.StartCleanup(interval)
}

func cacheKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// GetByIDs returns the users found among userIDs. Unknown IDs are omitted.
func (s *Service) GetByIDs(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.User, error) {
	found := make(map[uuid.UUID]*domain.User, len(userIDs))
	var missing []uuid.UUID
	for _, id := range userIDs {
		if v, ok := s.cache.Get(cacheKey(id)); ok {
			found[id] = v.(*domain.User)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return found, nil
	}

	loaded, err := s.repo.GetByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for id, u := range loaded {
		s.cache.Set(cacheKey(id), u, 0)
		found[id] = u
	}
	return found, nil
}

// Invalidate drops the cached profile of userID
func (s *Service) Invalidate(userID uuid.UUID) {
	s.cache.Delete(cacheKey(userID))
}

// ListOnline returns the online users, longest connected first
func (s *Service) ListOnline(ctx context.Context) ([]domain.PresenceEntry, error) {
	entries := s.online.ListAll()
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}

	users, err := s.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]domain.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		entry := domain.PresenceEntry{UserID: e.UserID, LastSeen: e.ConnectedAt}
		if u, ok := users[e.UserID]; ok {
			entry.User = u.ToResponse()
		}
		result = append(result, entry)
	}
	return result, nil
}
