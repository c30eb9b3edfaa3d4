package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"teamchat-backend/internal/domain"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/jwt"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/sanitize"
)

// UserRepository interface
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// LoginLimiter tracks failed sign-ins per username
type LoginLimiter interface {
	CheckLockout(ctx context.Context, identifier string) (bool, int, error)
	RecordFailedAttempt(ctx context.Context, identifier string) error
	ClearFailedAttempts(ctx context.Context, identifier string) error
}

// Service handles authentication business logic
type Service struct {
	userRepo   UserRepository
	jwtManager *jwt.JWTManager
	limiter    LoginLimiter
	now        func() time.Time
}

// NewService creates a new auth service
func NewService(userRepo UserRepository, jwtManager *jwt.JWTManager) *Service {
	return &Service{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		now:        time.Now,
	}
}

// WithLoginLimiter locks usernames after repeated failed logins. Limiter
// errors are logged and do not block sign-in.
func (s *Service) WithLoginLimiter(limiter LoginLimiter) *Service {
	s.limiter = limiter
	return s
}

// LoginInput contains login credentials
type LoginInput struct {
	Username string
	Password string
}

// Login authenticates a user and issues an access token
func (s *Service) Login(ctx context.Context, input *LoginInput) (*domain.LoginResponse, error) {
	username := sanitize.SanitizeUsername(input.Username)
	if username == "" || input.Password == "" {
		return nil, apperrors.InvalidCredentialsError()
	}

	// 1. Locked usernames are rejected before any lookup
	if s.isLocked(ctx, username) {
		return nil, apperrors.AccountLockedError()
	}

	// 2. Get user by username
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.recordFailure(ctx, username)
			return nil, apperrors.InvalidCredentialsError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	// 3. Compare password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordFailure(ctx, username)
		return nil, apperrors.InvalidCredentialsError()
	}
	s.clearFailures(ctx, username)

	// 4. Disabled accounts may not sign in
	if user.IsDisabled() {
		return nil, apperrors.AccountDisabledError()
	}

	// 5. Generate token
	role := user.Role
	if role == "" {
		role = domain.RoleUser
	}
	accessToken, err := s.jwtManager.GenerateAccessToken(user.UserID, user.Username, role)
	if err != nil {
		return nil, apperrors.InternalError("failed to generate access token")
	}

	logger.Info("User logged in",
		zap.String("user_id", user.UserID.String()),
		zap.String("username", user.Username))

	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresAt:   s.now().Add(s.jwtManager.AccessTokenDuration()),
		User:        user.ToResponse(),
	}, nil
}

func (s *Service) isLocked(ctx context.Context, username string) bool {
	if s.limiter == nil {
		return false
	}
	locked, _, err := s.limiter.CheckLockout(ctx, username)
	if err != nil {
		logger.Warn("Login lockout check failed", zap.String("username", username), zap.Error(err))
		return false
	}
	return locked
}

func (s *Service) recordFailure(ctx context.Context, username string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordFailedAttempt(ctx, username); err != nil {
		logger.Warn("Failed to record login failure", zap.String("username", username), zap.Error(err))
	}
}

func (s *Service) clearFailures(ctx context.Context, username string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.ClearFailedAttempts(ctx, username); err != nil {
		logger.Warn("Failed to clear login failures", zap.String("username", username), zap.Error(err))
	}
}

// Authenticate resolves an access token to its user. Unknown users and
// disabled accounts fail with AUTHENTICATION_FAILED.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, apperrors.AuthenticationFailedError("missing token")
	}

	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, apperrors.AuthenticationFailedError("invalid or expired token")
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.AuthenticationFailedError("user not found")
		}
		return nil, apperrors.DatabaseError(err)
	}
	if user.IsDisabled() {
		return nil, apperrors.AuthenticationFailedError("account is disabled")
	}
	return user, nil
}

// HashPassword hashes a plaintext password for storage
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
