package admin

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/audit"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AccountRepository updates account status and schedules
type AccountRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetSchedule(ctx context.Context, userID uuid.UUID, disableAt, enableAt *time.Time, now time.Time) error
	ApplySchedule(ctx context.Context, userID uuid.UUID, status string, clearDisable, clearEnable bool, now time.Time) error
}

// AuditLog records and reads audit events
type AuditLog interface {
	LogAccountDisabled(ctx context.Context, userID uuid.UUID) error
	GetEvents(ctx context.Context, day time.Time, limit int) ([]*audit.AuditEvent, error)
}

// SessionCloser drops the live connections of a user
type SessionCloser interface {
	Disconnect(userID uuid.UUID) int
}

// ProfileCache forgets cached profiles
type ProfileCache interface {
	Invalidate(userID uuid.UUID)
}

// Service handles administrative account operations
type Service struct {
	accounts AccountRepository
	audit    AuditLog
	sessions SessionCloser
	profiles ProfileCache
	now      func() time.Time
}

// NewService creates a new admin service. sessions and profiles may be nil.
func NewService(accounts AccountRepository, auditLog AuditLog, sessions SessionCloser, profiles ProfileCache) *Service {
	return &Service{
		accounts: accounts,
		audit:    auditLog,
		sessions: sessions,
		profiles: profiles,
		now:      time.Now,
	}
}

// ScheduleInput holds the requested disable and enable times. A nil time
// clears that side of the schedule.
type ScheduleInput struct {
	DisableAt *time.Time
	EnableAt  *time.Time
}

// ScheduleAccount stores a pending disable and/or enable for userID. The
// account schedule job applies it once due.
func (s *Service) ScheduleAccount(ctx context.Context, userID uuid.UUID, input *ScheduleInput) (*domain.User, error) {
	if input.DisableAt != nil && input.EnableAt != nil && input.DisableAt.Equal(*input.EnableAt) {
		return nil, apperrors.ValidationError("disable and enable times must differ")
	}

	if err := s.accounts.SetSchedule(ctx, userID, input.DisableAt, input.EnableAt, s.now().UTC()); err != nil {
		return nil, mapAccountError(err)
	}

	user, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, mapAccountError(err)
	}

	logger.Info("Account schedule updated",
		zap.String("user_id", userID.String()),
		zap.Timep("disable_at", input.DisableAt),
		zap.Timep("enable_at", input.EnableAt))
	return user, nil
}

// DisableAccount disables userID immediately and clears a pending disable
func (s *Service) DisableAccount(ctx context.Context, userID uuid.UUID) error {
	if err := s.accounts.ApplySchedule(ctx, userID, domain.AccountDisabled, true, false, s.now().UTC()); err != nil {
		return mapAccountError(err)
	}
	s.AccountDisabled(ctx, userID)
	return nil
}

// EnableAccount re-enables userID immediately and clears a pending enable
func (s *Service) EnableAccount(ctx context.Context, userID uuid.UUID) error {
	if err := s.accounts.ApplySchedule(ctx, userID, domain.AccountActive, false, true, s.now().UTC()); err != nil {
		return mapAccountError(err)
	}
	if s.profiles != nil {
		s.profiles.Invalidate(userID)
	}
	logger.Info("Account enabled", zap.String("user_id", userID.String()))
	return nil
}

// AccountDisabled runs the follow-up of a disable, whether manual or
// scheduled: cached profile dropped, sockets closed, audit entry written
func (s *Service) AccountDisabled(ctx context.Context, userID uuid.UUID) {
	if s.profiles != nil {
		s.profiles.Invalidate(userID)
	}

	closed := 0
	if s.sessions != nil {
		closed = s.sessions.Disconnect(userID)
	}

	if err := s.audit.LogAccountDisabled(ctx, userID); err != nil {
		logger.Warn("Failed to write audit event",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	logger.Info("Account disabled",
		zap.String("user_id", userID.String()),
		zap.Int("connections_closed", closed))
}

// ListAuditEvents returns the audit events of day, newest first
func (s *Service) ListAuditEvents(ctx context.Context, day time.Time, limit int) ([]*audit.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	events, err := s.audit.GetEvents(ctx, day, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return events, nil
}

func mapAccountError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperrors.UserNotFoundError()
	}
	return apperrors.DatabaseError(err)
}
