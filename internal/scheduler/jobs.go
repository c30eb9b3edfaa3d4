package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/presence"
	"teamchat-backend/pkg/logger"
)

const (
	jobTimeout      = 50 * time.Second
	missedCallBatch = 200
)

// UnansweredCallFinder lists calls still ringing since before cutoff
type UnansweredCallFinder interface {
	FindUnansweredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Call, error)
}

// MissedMarker times out a ringing call
type MissedMarker interface {
	MarkMissed(ctx context.Context, callID uuid.UUID) (bool, error)
}

// MissedCallJob marks calls nobody answered within the ring timeout as missed
type MissedCallJob struct {
	calls       UnansweredCallFinder
	marker      MissedMarker
	ringTimeout time.Duration
	now         func() time.Time
}

// NewMissedCallJob creates a new MissedCallJob instance
func NewMissedCallJob(calls UnansweredCallFinder, marker MissedMarker, ringTimeout time.Duration) *MissedCallJob {
	return &MissedCallJob{
		calls:       calls,
		marker:      marker,
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

// Run executes the job
func (j *MissedCallJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	j.run(ctx)
}

func (j *MissedCallJob) run(ctx context.Context) int {
	cutoff := j.now().Add(-j.ringTimeout)
	calls, err := j.calls.FindUnansweredBefore(ctx, cutoff, missedCallBatch)
	if err != nil {
		logger.Error("Failed to find unanswered calls", zap.Error(err))
		return 0
	}
	if len(calls) == 0 {
		return 0
	}

	marked := 0
	for _, c := range calls {
		ok, err := j.marker.MarkMissed(ctx, c.CallID)
		if err != nil {
			logger.Warn("Failed to mark call missed",
				zap.String("call_id", c.CallID.String()),
				zap.Error(err))
			continue
		}
		if ok {
			marked++
		}
	}

	logger.Info("Missed call job completed",
		zap.Int("candidates", len(calls)),
		zap.Int("marked", marked))
	return marked
}

// AccountScheduleRepository reads and applies scheduled account changes
type AccountScheduleRepository interface {
	FindDueSchedules(ctx context.Context, now time.Time) ([]*domain.User, error)
	ApplySchedule(ctx context.Context, userID uuid.UUID, status string, clearDisable, clearEnable bool, now time.Time) error
}

// AccountScheduleJob applies users' scheduled disable and enable times
type AccountScheduleJob struct {
	users AccountScheduleRepository
	now   func() time.Time

	// OnDisabled is called after an account is disabled, e.g. to drop its
	// live connections. Optional.
	OnDisabled func(userID uuid.UUID)
}

// NewAccountScheduleJob creates a new AccountScheduleJob instance
func NewAccountScheduleJob(users AccountScheduleRepository) *AccountScheduleJob {
	return &AccountScheduleJob{
		users: users,
		now:   time.Now,
	}
}

// Run executes the job
func (j *AccountScheduleJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	j.run(ctx)
}

func (j *AccountScheduleJob) run(ctx context.Context) int {
	now := j.now()
	users, err := j.users.FindDueSchedules(ctx, now)
	if err != nil {
		logger.Error("Failed to find due account schedules", zap.Error(err))
		return 0
	}

	applied := 0
	for _, u := range users {
		status, clearDisable, clearEnable, ok := resolveSchedule(u, now)
		if !ok {
			continue
		}
		if err := j.users.ApplySchedule(ctx, u.UserID, status, clearDisable, clearEnable, now); err != nil {
			logger.Warn("Failed to apply account schedule",
				zap.String("user_id", u.UserID.String()),
				zap.Error(err))
			continue
		}
		applied++

		logger.Info("Account schedule applied",
			zap.String("user_id", u.UserID.String()),
			zap.String("status", status))
		if status == domain.AccountDisabled && j.OnDisabled != nil {
			j.OnDisabled(u.UserID)
		}
	}
	return applied
}

// resolveSchedule picks the status a due schedule applies. When both times
// are due the later one wins and both are cleared.
func resolveSchedule(u *domain.User, now time.Time) (status string, clearDisable, clearEnable, ok bool) {
	disableDue := u.ScheduledDisableAt != nil && !u.ScheduledDisableAt.After(now)
	enableDue := u.ScheduledEnableAt != nil && !u.ScheduledEnableAt.After(now)

	switch {
	case disableDue && enableDue:
		if u.ScheduledEnableAt.After(*u.ScheduledDisableAt) {
			return domain.AccountActive, true, true, true
		}
		return domain.AccountDisabled, true, true, true
	case disableDue:
		return domain.AccountDisabled, true, false, true
	case enableDue:
		return domain.AccountActive, false, true, true
	}
	return "", false, false, false
}

// OnlineLister lists the connections held by this process
type OnlineLister interface {
	ListAll() []presence.Entry
}

// PresenceRefresher extends the mirrored online flag of a user
type PresenceRefresher interface {
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// PresenceRefreshJob keeps the mirrored online flags of connected users from
// expiring
type PresenceRefreshJob struct {
	online    OnlineLister
	refresher PresenceRefresher
}

// NewPresenceRefreshJob creates a new PresenceRefreshJob instance
func NewPresenceRefreshJob(online OnlineLister, refresher PresenceRefresher) *PresenceRefreshJob {
	return &PresenceRefreshJob{online: online, refresher: refresher}
}

// Run executes the job
func (j *PresenceRefreshJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	j.run(ctx)
}

func (j *PresenceRefreshJob) run(ctx context.Context) int {
	refreshed := 0
	for _, entry := range j.online.ListAll() {
		if err := j.refresher.RefreshPresence(ctx, entry.UserID); err != nil {
			logger.Debug("Presence refresh stopped", zap.Error(err))
			break
		}
		refreshed++
	}
	return refreshed
}
