// Package call implements 1:1 call signaling: lifecycle transitions on the
// persisted call record and WebRTC relay between the two parties.
package call

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
	"teamchat-backend/pkg/constants"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

const metricsKind = "direct"

// CallRepository is the call record store
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Update(ctx context.Context, call *domain.Call) error
	SaveOffer(ctx context.Context, callID uuid.UUID, offer json.RawMessage) error
	SaveAnswer(ctx context.Context, callID uuid.UUID, answer json.RawMessage) error
	AppendIceCandidate(ctx context.Context, callID uuid.UUID, candidate json.RawMessage) error
	FindActiveByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
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

// Service handles 1:1 call signaling
type Service struct {
	callRepo CallRepository
	userRepo UserRepository
	presence Presence
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a new call service. notifier and m may be nil.
func NewService(callRepo CallRepository, userRepo UserRepository, presence Presence, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		callRepo: callRepo,
		userRepo: userRepo,
		presence: presence,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// InitiateInput contains call initiation data
type InitiateInput struct {
	CallerID   uuid.UUID
	ReceiverID uuid.UUID
	CallType   domain.CallType
	// CallID is optional; a new id is generated when it is Nil
	CallID uuid.UUID
}

// Initiate rings the receiver. The receiver must be connected; otherwise
// the caller gets PEER_UNREACHABLE, no record is created and the receiver
// gets a missed-call push. The record is created, or fetched when the
// client supplied the id of an existing call.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*domain.Call, error) {
	if input.CallerID == input.ReceiverID {
		return nil, apperrors.ValidationError("cannot call yourself")
	}
	if !input.CallType.Valid() {
		return nil, apperrors.ValidationError("callType must be voice or video")
	}

	receiverConn, ok := s.presence.Lookup(input.ReceiverID)
	if !ok {
		caller := s.userSummary(ctx, input.CallerID)
		s.push(ctx, input.ReceiverID, "Missed call",
			fmt.Sprintf("%s tried to call you", displayName(caller)),
			map[string]string{"type": "missed_call", "caller_id": input.CallerID.String()})
		return nil, apperrors.PeerUnreachableError(input.ReceiverID.String())
	}

	call, created, err := s.createOrFetch(ctx, input)
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.RecordCallStarted(metricsKind, string(call.CallType))
		logger.Info("Call initiated",
			zap.String("call_id", call.CallID.String()),
			zap.String("caller_id", call.CallerID.String()),
			zap.String("receiver_id", call.ReceiverID.String()))
	}

	emit(receiverConn, realtime.EventIncomingCall, realtime.IncomingCallPayload{
		CallID:   call.CallID,
		Caller:   s.userSummary(ctx, call.CallerID),
		CallType: call.CallType,
		RoomName: call.RoomName,
	})
	s.emitTo(call.CallerID, realtime.EventCallInitiated, realtime.CallInitiatedPayload{
		CallID:     call.CallID,
		ReceiverID: call.ReceiverID,
		CallType:   call.CallType,
		Status:     string(call.Status),
		RoomName:   call.RoomName,
	})

	return call, nil
}

func (s *Service) createOrFetch(ctx context.Context, input *InitiateInput) (*domain.Call, bool, error) {
	callID := input.CallID
	if callID == uuid.Nil {
		callID = uuid.New()
	} else {
		existing, err := s.callRepo.GetByID(ctx, callID)
		switch {
		case err == nil:
			return s.reuse(existing, input)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, apperrors.DatabaseError(err)
		}
	}

	call := domain.NewCall(callID, input.CallerID, input.ReceiverID, input.CallType, s.now())
	if err := s.callRepo.Create(ctx, call); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, getErr := s.callRepo.GetByID(ctx, callID)
			if getErr != nil {
				return nil, false, apperrors.DatabaseError(getErr)
			}
			return s.reuse(existing, input)
		}
		return nil, false, apperrors.DatabaseError(fmt.Errorf("failed to create call record: %w", err))
	}
	return call, true, nil
}

func (s *Service) reuse(existing *domain.Call, input *InitiateInput) (*domain.Call, bool, error) {
	if existing.CallerID != input.CallerID || existing.ReceiverID != input.ReceiverID {
		return nil, false, apperrors.NotAuthorizedError()
	}
	if !existing.Answerable() {
		return nil, false, apperrors.CallNotActiveError()
	}
	return existing, false, nil
}

// Answer accepts a ringing call. Only the receiver may answer.
func (s *Service) Answer(ctx context.Context, callID, answererID uuid.UUID, answer json.RawMessage) (*domain.Call, error) {
	call, _, err := s.mutate(ctx, callID, func(c *domain.Call) (bool, error) {
		if c.ReceiverID != answererID {
			return false, apperrors.NotAuthorizedError()
		}
		if !c.Answerable() {
			return false, apperrors.CallNotActiveError()
		}
		c.Status = domain.CallStatusAnswered
		if len(answer) > 0 {
			c.Answer = answer
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.emitTo(call.CallerID, realtime.EventCallAnswered, realtime.CallLifecyclePayload{
		CallID: call.CallID,
		From:   answererID,
		Status: string(call.Status),
		Answer: call.Answer,
	})
	return call, nil
}

// Decline rejects a ringing call. Only the receiver may decline.
func (s *Service) Decline(ctx context.Context, callID, declinerID uuid.UUID) (*domain.Call, error) {
	call, _, err := s.mutate(ctx, callID, func(c *domain.Call) (bool, error) {
		if c.ReceiverID != declinerID {
			return false, apperrors.NotAuthorizedError()
		}
		if !c.Answerable() {
			return false, apperrors.CallNotActiveError()
		}
		c.Finish(domain.CallStatusDeclined, s.now())
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCallEnded(metricsKind, string(call.Status), 0)
	s.emitTo(call.CallerID, realtime.EventCallDeclined, realtime.CallLifecyclePayload{
		CallID: call.CallID,
		From:   declinerID,
		Status: string(call.Status),
	})
	return call, nil
}

// End finishes the call for both parties. Ending a call that is already in
// a terminal status succeeds without changing it.
func (s *Service) End(ctx context.Context, callID, enderID uuid.UUID) (*domain.Call, error) {
	call, changed, err := s.mutate(ctx, callID, func(c *domain.Call) (bool, error) {
		if !c.IsParty(enderID) {
			return false, apperrors.NotAuthorizedError()
		}
		if c.Status.IsTerminal() {
			return false, nil
		}
		c.Finish(domain.CallStatusEnded, s.now())
		return true, nil
	})
	if err != nil || !changed {
		return call, err
	}

	s.metrics.RecordCallEnded(metricsKind, string(call.Status), time.Duration(call.Duration)*time.Second)
	s.emitTo(call.OtherParty(enderID), realtime.EventCallEnded, realtime.CallLifecyclePayload{
		CallID:   call.CallID,
		From:     enderID,
		Status:   string(call.Status),
		Duration: call.Duration,
	})
	return call, nil
}

// MarkMissed times out a call nobody answered. Calls that moved on are left
// alone; it reports whether the call was marked.
func (s *Service) MarkMissed(ctx context.Context, callID uuid.UUID) (bool, error) {
	call, changed, err := s.mutate(ctx, callID, func(c *domain.Call) (bool, error) {
		if !c.Answerable() {
			return false, nil
		}
		c.Finish(domain.CallStatusMissed, s.now())
		return true, nil
	})
	if err != nil || !changed {
		return false, err
	}

	s.metrics.RecordCallEnded(metricsKind, string(call.Status), 0)
	payload := realtime.CallLifecyclePayload{CallID: call.CallID, From: call.ReceiverID, Status: string(call.Status)}
	s.emitTo(call.CallerID, realtime.EventCallEnded, payload)
	s.emitTo(call.ReceiverID, realtime.EventCallEnded, payload)

	caller := s.userSummary(ctx, call.CallerID)
	s.push(ctx, call.ReceiverID, "Missed call",
		fmt.Sprintf("You missed a call from %s", displayName(caller)),
		map[string]string{"type": "missed_call", "call_id": call.CallID.String(), "caller_id": call.CallerID.String()})
	return true, nil
}

// EndAll ends every live call userID is a party to and returns how many
// were ended
func (s *Service) EndAll(ctx context.Context, userID uuid.UUID) (int, error) {
	calls, err := s.callRepo.FindActiveByParticipant(ctx, userID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	ended := 0
	for _, c := range calls {
		if _, err := s.End(ctx, c.CallID, userID); err != nil {
			logger.Warn("Failed to end call for user",
				zap.String("call_id", c.CallID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		ended++
	}
	return ended, nil
}

// RelayOffer forwards an SDP offer to the other party
func (s *Service) RelayOffer(ctx context.Context, callID, fromID uuid.UUID, offer json.RawMessage) error {
	call, err := s.signalable(ctx, callID, fromID)
	if err != nil {
		return err
	}

	s.emitTo(call.OtherParty(fromID), realtime.EventCallOffer, realtime.CallSignalPayload{
		CallID: callID,
		From:   fromID,
		Offer:  offer,
	})
	if err := s.callRepo.SaveOffer(ctx, callID, offer); err != nil {
		logger.Warn("Failed to save offer", zap.String("call_id", callID.String()), zap.Error(err))
	}
	return nil
}

// RelayAnswerSDP forwards an SDP answer to the other party
func (s *Service) RelayAnswerSDP(ctx context.Context, callID, fromID uuid.UUID, answer json.RawMessage) error {
	call, err := s.signalable(ctx, callID, fromID)
	if err != nil {
		return err
	}

	s.emitTo(call.OtherParty(fromID), realtime.EventCallAnswerSDP, realtime.CallSignalPayload{
		CallID: callID,
		From:   fromID,
		Answer: answer,
	})
	if err := s.callRepo.SaveAnswer(ctx, callID, answer); err != nil {
		logger.Warn("Failed to save answer", zap.String("call_id", callID.String()), zap.Error(err))
	}
	return nil
}

// RelayIceCandidate forwards an ICE candidate to the other party, then
// appends it to the audit list. A failed append is logged only.
func (s *Service) RelayIceCandidate(ctx context.Context, callID, fromID uuid.UUID, candidate json.RawMessage) error {
	call, err := s.signalable(ctx, callID, fromID)
	if err != nil {
		return err
	}

	s.emitTo(call.OtherParty(fromID), realtime.EventIceCandidate, realtime.CallSignalPayload{
		CallID:    callID,
		From:      fromID,
		Candidate: candidate,
	})
	if err := s.callRepo.AppendIceCandidate(ctx, callID, candidate); err != nil {
		logger.Warn("Failed to append ICE candidate", zap.String("call_id", callID.String()), zap.Error(err))
	}
	return nil
}

// Get returns a call visible to userID
func (s *Service) Get(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(userID) {
		return nil, apperrors.NotAuthorizedError()
	}
	return call, nil
}

// History returns the user's calls, newest first. limit may exceed
// MaxPageSize by one so callers can detect a further page.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize+1 {
		limit = constants.MaxPageSize + 1
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := s.callRepo.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return calls, nil
}

func (s *Service) signalable(ctx context.Context, callID, fromID uuid.UUID) (*domain.Call, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(fromID) {
		return nil, apperrors.NotAuthorizedError()
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.CallNotActiveError()
	}
	return call, nil
}

func (s *Service) load(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return call, nil
}

// mutate runs a read-modify-write of the call, retrying on version
// conflicts. fn reports whether it changed the call; unchanged calls are
// not written.
func (s *Service) mutate(ctx context.Context, callID uuid.UUID, fn func(*domain.Call) (bool, error)) (*domain.Call, bool, error) {
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

		err = s.callRepo.Update(ctx, call)
		if err == nil {
			return call, true, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, false, apperrors.DatabaseError(err)
		}
		logger.Debug("Call version conflict, retrying",
			zap.String("call_id", callID.String()),
			zap.Int("attempt", attempt))
	}
	return nil, false, apperrors.ConflictError("call was modified concurrently, retry")
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
		logger.Debug("Failed to emit call event",
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
		logger.Warn("Failed to send call push",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) userSummary(ctx context.Context, userID uuid.UUID) *domain.UserResponse {
	user, err := s.userRepo.GetByID(ctx, userID)
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
