// Package groupcall implements group call signaling: roster lifecycle on the
// persisted group call, host privileges and per-peer WebRTC relay.
package groupcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/presence"
	"teamchat-backend/internal/realtime"
	"teamchat-backend/pkg/config"
	"teamchat-backend/pkg/constants"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

const metricsKind = "group"

// Reasons carried by group-call-ended
const (
	ReasonHostLeft       = "host left"
	ReasonNoParticipants = "no participants"
	ReasonEndedByHost    = "ended by host"
	ReasonEndedByAdmin   = "ended by admin"
)

// GroupCallRepository is the group call record store
type GroupCallRepository interface {
	Create(ctx context.Context, call *domain.GroupCall) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error)
	Update(ctx context.Context, call *domain.GroupCall) error
	FindActiveByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.GroupCall, error)
}

// GroupRepository resolves group membership
type GroupRepository interface {
	GetByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
}

// UserRepository resolves display fields for payloads
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Presence looks up a user's current connection
type Presence interface {
	Lookup(userID uuid.UUID) (presence.Handle, bool)
}

// Notifier pushes to a user's devices
type Notifier interface {
	SendToUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) error
}

// Config holds group call limits
type Config struct {
	MaxParticipants int
	// ICEScope selects who receives untargeted ICE candidates:
	// config.ICEScopeGroup or config.ICEScopeRoster
	ICEScope string
}

// Service handles group call signaling
type Service struct {
	calls    GroupCallRepository
	groups   GroupRepository
	users    UserRepository
	presence Presence
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

// NewService creates a new group call service. notifier and m may be nil.
func NewService(calls GroupCallRepository, groups GroupRepository, users UserRepository, presence Presence, notifier Notifier, m *metrics.Metrics, cfg Config) *Service {
	if cfg.MaxParticipants < 2 {
		cfg.MaxParticipants = constants.DefaultGroupCallCapacity
	}
	if cfg.ICEScope == "" {
		cfg.ICEScope = config.ICEScopeGroup
	}
	return &Service{
		calls:    calls,
		groups:   groups,
		users:    users,
		presence: presence,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// InitiateInput contains group call initiation data
type InitiateInput struct {
	InitiatorID uuid.UUID
	GroupID     uuid.UUID
	CallType    domain.CallType
	// CallID is optional; a new id is generated when it is Nil
	CallID uuid.UUID
}

// Initiate starts a group call hosted by the initiator. Online members get
// incoming-group-call, offline members get a push. The initiator receives
// the initial roster.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*domain.GroupCall, error) {
	if !input.CallType.Valid() {
		return nil, apperrors.ValidationError("callType must be voice or video")
	}

	group, err := s.loadGroup(ctx, input.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.IsMember(input.InitiatorID) {
		return nil, apperrors.NotAuthorizedError()
	}

	call, created, err := s.createOrFetch(ctx, input)
	if err != nil {
		return nil, err
	}
	if !created {
		s.broadcastRoster(call)
		return call, nil
	}

	s.metrics.RecordCallStarted(metricsKind, string(call.CallType))
	logger.Info("Group call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("group_id", call.GroupID.String()),
		zap.String("initiator_id", call.InitiatorID.String()))

	initiator := s.userSummary(ctx, call.InitiatorID)
	payload := realtime.IncomingGroupCallPayload{
		CallID:    call.CallID,
		GroupID:   call.GroupID,
		Initiator: initiator,
		CallType:  call.CallType,
		RoomName:  call.RoomName,
	}
	for _, memberID := range group.MemberIDs() {
		if memberID == call.InitiatorID {
			continue
		}
		if conn, ok := s.presence.Lookup(memberID); ok {
			emit(conn, realtime.EventIncomingGroupCall, payload)
			continue
		}
		s.push(ctx, memberID, "Incoming group call",
			fmt.Sprintf("%s started a %s call in %s", displayName(initiator), call.CallType, group.Name),
			map[string]string{"type": "group_call", "call_id": call.CallID.String(), "group_id": call.GroupID.String()})
	}

	s.broadcastRoster(call)
	return call, nil
}

func (s *Service) createOrFetch(ctx context.Context, input *InitiateInput) (*domain.GroupCall, bool, error) {
	callID := input.CallID
	if callID == uuid.Nil {
		callID = uuid.New()
	} else {
		existing, err := s.calls.GetByID(ctx, callID)
		switch {
		case err == nil:
			return reuse(existing, input)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, apperrors.DatabaseError(err)
		}
	}

	call := domain.NewGroupCall(callID, input.GroupID, input.InitiatorID, input.CallType, s.cfg.MaxParticipants, s.now())
	if err := s.calls.Create(ctx, call); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, getErr := s.calls.GetByID(ctx, callID)
			if getErr != nil {
				return nil, false, apperrors.DatabaseError(getErr)
			}
			return reuse(existing, input)
		}
		return nil, false, apperrors.DatabaseError(fmt.Errorf("failed to create group call record: %w", err))
	}
	return call, true, nil
}

func reuse(existing *domain.GroupCall, input *InitiateInput) (*domain.GroupCall, bool, error) {
	if existing.GroupID != input.GroupID {
		return nil, false, apperrors.NotAuthorizedError()
	}
	if existing.IsEnded() {
		return nil, false, apperrors.CallNotActiveError()
	}
	return existing, false, nil
}

// Join adds userID to the roster, reactivating a previous entry, and
// broadcasts the full active roster to every active participant.
func (s *Service) Join(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, call.GroupID, userID); err != nil {
		return nil, err
	}

	call, changed, err := s.mutate(ctx, callID, func(c *domain.GroupCall) (bool, error) {
		if c.IsEnded() {
			return false, apperrors.CallNotActiveError()
		}
		if p := c.Participant(userID); p != nil && p.IsActive {
			return false, nil
		}
		if c.ActiveCount() >= c.MaxParticipants {
			return false, apperrors.CallFullError()
		}
		c.Join(userID, s.now())
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.Debug("Participant joined group call",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.Int("active", call.ActiveCount()))
	}
	s.broadcastRoster(call)
	return call, nil
}

// Leave removes userID from the roster. The host leaving ends the call for
// everyone, as does the last participant leaving. Leaving when not an
// active participant succeeds without effect.
func (s *Service) Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error) {
	var (
		reason   string
		notified []uuid.UUID
	)
	call, changed, err := s.mutate(ctx, callID, func(c *domain.GroupCall) (bool, error) {
		reason, notified = "", nil
		if c.IsEnded() {
			return false, nil
		}
		if c.IsHost(userID) {
			notified = without(c.ActiveIDs(), userID)
			reason = ReasonHostLeft
			c.End(s.now())
			return true, nil
		}
		if !c.Leave(userID, s.now()) {
			return false, nil
		}
		if c.ActiveCount() == 0 {
			reason = ReasonNoParticipants
			c.End(s.now())
		}
		return true, nil
	})
	if err != nil || !changed {
		return call, err
	}

	if call.IsEnded() {
		s.finish(call, reason, notified)
		return call, nil
	}
	s.broadcastRoster(call)
	return call, nil
}

// End finishes the call for all participants. Only the host or a group
// admin may end it; ending an ended call succeeds without effect.
func (s *Service) End(ctx context.Context, callID, actorID uuid.UUID) (*domain.GroupCall, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}

	isAdmin := false
	if !call.IsHost(actorID) {
		group, err := s.loadGroup(ctx, call.GroupID)
		if err != nil {
			return nil, err
		}
		isAdmin = group.IsAdmin(actorID)
	}

	var notified []uuid.UUID
	call, changed, err := s.mutate(ctx, callID, func(c *domain.GroupCall) (bool, error) {
		if !c.IsHost(actorID) && !isAdmin {
			return false, apperrors.NotAuthorizedError()
		}
		if c.IsEnded() {
			return false, nil
		}
		notified = participantIDs(c)
		c.End(s.now())
		return true, nil
	})
	if err != nil || !changed {
		return call, err
	}

	reason := ReasonEndedByHost
	if !call.IsHost(actorID) {
		reason = ReasonEndedByAdmin
	}
	s.finish(call, reason, notified)
	return call, nil
}

// StatusInput changes a participant's mute or video state. A nil field is
// left unchanged; a Nil TargetUserID means the actor.
type StatusInput struct {
	TargetUserID   uuid.UUID
	IsMuted        *bool
	IsVideoEnabled *bool
}

// UpdateParticipantStatus applies input to the target's roster entry.
// Participants may change their own state; the host may change anyone's.
func (s *Service) UpdateParticipantStatus(ctx context.Context, callID, actorID uuid.UUID, input StatusInput) (*domain.GroupCall, error) {
	target := input.TargetUserID
	if target == uuid.Nil {
		target = actorID
	}

	call, changed, err := s.mutate(ctx, callID, func(c *domain.GroupCall) (bool, error) {
		if target != actorID && !c.IsHost(actorID) {
			return false, apperrors.NotAuthorizedError()
		}
		if c.IsEnded() {
			return false, apperrors.CallNotActiveError()
		}
		p := c.Participant(target)
		if p == nil || !p.IsActive {
			return false, apperrors.NotFoundError("Participant")
		}

		changed := false
		if input.IsMuted != nil && p.IsMuted != *input.IsMuted {
			p.IsMuted = *input.IsMuted
			changed = true
		}
		if input.IsVideoEnabled != nil && p.IsVideoEnabled != *input.IsVideoEnabled {
			p.IsVideoEnabled = *input.IsVideoEnabled
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.broadcastRoster(call)
	}
	return call, nil
}

// SignalInput is one group offer, answer or ICE candidate
type SignalInput struct {
	// Event is realtime.EventGroupOffer, EventGroupAnswer or EventGroupCandidate
	Event    string
	CallID   uuid.UUID
	FromID   uuid.UUID
	TargetID *uuid.UUID
	Payload  json.RawMessage
}

// Relay forwards a signaling payload. With a target it goes to that peer
// only, and the target must be active on the roster. Untargeted ICE
// candidates go to the configured scope: every online group member, or the
// active roster.
func (s *Service) Relay(ctx context.Context, input SignalInput) error {
	call, err := s.load(ctx, input.CallID)
	if err != nil {
		return err
	}
	if call.IsEnded() {
		return apperrors.CallNotActiveError()
	}
	if p := call.Participant(input.FromID); p == nil || !p.IsActive {
		return apperrors.NotAuthorizedError()
	}

	payload := realtime.GroupSignalPayload{
		CallID:  call.CallID,
		GroupID: call.GroupID,
		From:    input.FromID,
		Payload: input.Payload,
	}

	if input.TargetID != nil && *input.TargetID != uuid.Nil {
		if p := call.Participant(*input.TargetID); p == nil || !p.IsActive {
			return apperrors.NotAuthorizedError()
		}
		s.emitTo(*input.TargetID, input.Event, payload)
		return nil
	}
	if input.Event != realtime.EventGroupCandidate {
		return apperrors.MissingFieldError("targetUserId")
	}

	var recipients []uuid.UUID
	switch s.cfg.ICEScope {
	case config.ICEScopeRoster:
		recipients = call.ActiveIDs()
	default:
		group, err := s.loadGroup(ctx, call.GroupID)
		if err != nil {
			return err
		}
		recipients = group.MemberIDs()
	}
	for _, id := range without(recipients, input.FromID) {
		s.emitTo(id, input.Event, payload)
	}
	return nil
}

// LeaveAll leaves every live group call userID is active in and returns
// how many were left
func (s *Service) LeaveAll(ctx context.Context, userID uuid.UUID) (int, error) {
	calls, err := s.calls.FindActiveByParticipant(ctx, userID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	left := 0
	for _, c := range calls {
		if _, err := s.Leave(ctx, c.CallID, userID); err != nil {
			logger.Warn("Failed to leave group call for user",
				zap.String("call_id", c.CallID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		left++
	}
	return left, nil
}

// Get returns a group call visible to userID: any group member or anyone
// on the roster
func (s *Service) Get(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Participant(userID) != nil {
		return call, nil
	}
	if err := s.requireMember(ctx, call.GroupID, userID); err != nil {
		return nil, err
	}
	return call, nil
}

func (s *Service) finish(call *domain.GroupCall, reason string, notified []uuid.UUID) {
	s.metrics.RecordCallEnded(metricsKind, string(call.Status), time.Duration(call.Duration)*time.Second)
	logger.Info("Group call ended",
		zap.String("call_id", call.CallID.String()),
		zap.String("reason", reason),
		zap.Int("duration", call.Duration))

	payload := realtime.GroupEndedPayload{
		CallID:   call.CallID,
		GroupID:  call.GroupID,
		Reason:   reason,
		Duration: call.Duration,
	}
	for _, id := range notified {
		s.emitTo(id, realtime.EventGroupEnded, payload)
	}
}

// broadcastRoster sends the persisted active roster to every active
// participant
func (s *Service) broadcastRoster(call *domain.GroupCall) {
	payload := realtime.GroupParticipantsPayload{
		CallID:       call.CallID,
		GroupID:      call.GroupID,
		Status:       string(call.Status),
		Participants: call.ActiveParticipants(),
	}
	for _, id := range call.ActiveIDs() {
		s.emitTo(id, realtime.EventGroupParticipants, payload)
	}
}

func (s *Service) requireMember(ctx context.Context, groupID, userID uuid.UUID) error {
	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.IsMember(userID) {
		return apperrors.NotAuthorizedError()
	}
	return nil
}

func (s *Service) loadGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.NotFoundError("Group")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return group, nil
}

func (s *Service) load(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return call, nil
}

// mutate runs a read-modify-write of the group call, retrying on version
// conflicts. Every attempt re-reads the persisted roster.
func (s *Service) mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.GroupCall) (bool, error)) (*domain.GroupCall, bool, error) {
	for attempt := 1; attempt <= constants.SaveRetryAttempts; attempt++ {
		call, err := s.load(ctx, callID)
		if err != nil {
			return nil, false, err
		}

		changed, err := fn(call)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return call, false, nil
		}

		err = s.calls.Update(ctx, call)
		if err == nil {
			return call, true, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, false, apperrors.DatabaseError(err)
		}
		logger.Debug("Group call version conflict, retrying",
			zap.String("call_id", callID.String()),
			zap.Int("attempt", attempt))
	}
	return nil, false, apperrors.ConflictError("group call was modified concurrently, retry")
}

func (s *Service) emitTo(userID uuid.UUID, event string, payload any) {
	conn, ok := s.presence.Lookup(userID)
	if !ok {
		return
	}
	emit(conn, event, payload)
}

func emit(conn presence.Handle, event string, payload any) {
	if err := conn.Emit(event, payload); err != nil {
		logger.Debug("Failed to emit group call event",
			zap.String("event", event),
			zap.String("connection_id", conn.ID()),
			zap.Error(err))
	}
}

func (s *Service) push(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendToUser(ctx, userID, title, body, data); err != nil {
		logger.Warn("Failed to send group call push",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) userSummary(ctx context.Context, userID uuid.UUID) *domain.UserResponse {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return &domain.UserResponse{UserID: userID}
	}
	return user.ToResponse()
}

func displayName(u *domain.UserResponse) string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	}
	return "Someone"
}

func participantIDs(c *domain.GroupCall) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func without(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
