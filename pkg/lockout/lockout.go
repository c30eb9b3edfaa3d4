// Package lockout counts failed sign-in attempts in Redis and locks an
// identifier once it reaches the limit.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutManager handles account lockout functionality
type LockoutManager struct {
	redisClient  *redis.Client
	maxAttempts  int
	lockDuration time.Duration
}

// NewLockoutManager locks an identifier for lockDuration after maxAttempts
// failures within that period
func NewLockoutManager(redisClient *redis.Client, maxAttempts int, lockDuration time.Duration) *LockoutManager {
	return &LockoutManager{
		redisClient:  redisClient,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
	}
}

func failedKey(identifier string) string {
	return fmt.Sprintf("lockout:failed:%s", identifier)
}

// RecordFailedAttempt records a failed login attempt. The counter expires
// lockDuration after the first failure.
func (lm *LockoutManager) RecordFailedAttempt(ctx context.Context, identifier string) error {
	key := failedKey(identifier)

	pipe := lm.redisClient.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, lm.lockDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return nil
}

// CheckLockout reports whether identifier is locked and how many attempts remain
func (lm *LockoutManager) CheckLockout(ctx context.Context, identifier string) (bool, int, error) {
	count, err := lm.redisClient.Get(ctx, failedKey(identifier)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, fmt.Errorf("failed to check lockout status: %w", err)
	}

	remaining := lm.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return count >= lm.maxAttempts, remaining, nil
}

// ClearFailedAttempts clears failed attempts after successful login
func (lm *LockoutManager) ClearFailedAttempts(ctx context.Context, identifier string) error {
	if err := lm.redisClient.Del(ctx, failedKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to clear failed attempts: %w", err)
	}
	return nil
}
