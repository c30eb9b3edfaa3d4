package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/presence"
	"teamchat-backend/internal/realtime"
	apperrors "teamchat-backend/pkg/errors"
)

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

// GetByID accepts either a *domain.Call or a func returning a fresh copy,
// so retried reads do not share state.
func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	switch v := args.Get(0).(type) {
	case func() *domain.Call:
		return v(), args.Error(1)
	case *domain.Call:
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallRepository) Update(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) SaveOffer(ctx context.Context, callID uuid.UUID, offer json.RawMessage) error {
	args := m.Called(ctx, callID, offer)
	return args.Error(0)
}

func (m *MockCallRepository) SaveAnswer(ctx context.Context, callID uuid.UUID, answer json.RawMessage) error {
	args := m.Called(ctx, callID, answer)
	return args.Error(0)
}

func (m *MockCallRepository) AppendIceCandidate(ctx context.Context, callID uuid.UUID, candidate json.RawMessage) error {
	args := m.Called(ctx, callID, candidate)
	return args.Error(0)
}

func (m *MockCallRepository) FindActiveByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *MockCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendToUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) error {
	args := m.Called(ctx, userID, title, body, data)
	return args.Error(0)
}

type sentEvent struct {
	Event   string
	Payload any
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []sentEvent
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.NewString()} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) received(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fixture struct {
	callRepo *MockCallRepository
	userRepo *MockUserRepository
	notifier *MockNotifier
	registry *presence.Registry
	service  *Service
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		callRepo: new(MockCallRepository),
		userRepo: new(MockUserRepository),
		notifier: new(MockNotifier),
		registry: presence.NewRegistry(),
		now:      time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
	}
	f.service = NewService(f.callRepo, f.userRepo, f.registry, f.notifier, nil)
	f.service.now = func() time.Time { return f.now }
	f.userRepo.On("GetByID", mock.Anything, mock.Anything).
		Return(&domain.User{Username: "alice", DisplayName: "Alice"}, nil).Maybe()
	return f
}

func (f *fixture) connect(userID uuid.UUID) *fakeConn {
	conn := newFakeConn()
	f.registry.Register(userID, conn)
	return conn
}

func copyOf(call domain.Call) func() *domain.Call {
	return func() *domain.Call {
		c := call
		return &c
	}
}

func TestInitiate_DeliversIncomingCallAndConfirmation(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	callerConn, receiverConn := f.connect(caller), f.connect(receiver)

	f.callRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)

	call, err := f.service.Initiate(context.Background(), &InitiateInput{
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   domain.CallTypeVideo,
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, call.CallID)
	assert.Equal(t, domain.CallStatusInitiated, call.Status)

	incoming := receiverConn.received(realtime.EventIncomingCall)
	require.Len(t, incoming, 1)
	assert.Equal(t, 1, receiverConn.count())
	payload := incoming[0].(realtime.IncomingCallPayload)
	assert.Equal(t, call.CallID, payload.CallID)
	assert.Equal(t, "Alice", payload.Caller.DisplayName)

	assert.Len(t, callerConn.received(realtime.EventCallInitiated), 1)
	assert.Equal(t, 1, callerConn.count())
	f.callRepo.AssertExpectations(t)
}

func TestInitiate_PeerUnreachable(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	callerConn := f.connect(caller)

	f.notifier.On("SendToUser", mock.Anything, receiver, "Missed call", "Alice tried to call you", mock.Anything).
		Return(nil)

	call, err := f.service.Initiate(context.Background(), &InitiateInput{
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   domain.CallTypeVoice,
	})

	assert.Nil(t, call)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePeerUnreachable))
	assert.Contains(t, err.Error(), receiver.String())
	assert.Zero(t, callerConn.count())
	f.callRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestInitiate_ReusesSuppliedCallID(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	f.connect(receiver)
	existing := domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)

	f.callRepo.On("GetByID", mock.Anything, existing.CallID).Return(existing, nil)

	call, err := f.service.Initiate(context.Background(), &InitiateInput{
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   domain.CallTypeVoice,
		CallID:     existing.CallID,
	})

	require.NoError(t, err)
	assert.Equal(t, existing.CallID, call.CallID)
	f.callRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInitiate_SuppliedIDOfAnsweredCallDoesNotRingAgain(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	receiverConn := f.connect(receiver)
	existing := domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)
	existing.Status = domain.CallStatusAnswered

	f.callRepo.On("GetByID", mock.Anything, existing.CallID).Return(existing, nil)

	_, err := f.service.Initiate(context.Background(), &InitiateInput{
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   domain.CallTypeVoice,
		CallID:     existing.CallID,
	})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotActive))
	assert.Empty(t, receiverConn.received(realtime.EventIncomingCall))
	f.callRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInitiate_CreatesWithSuppliedUnknownID(t *testing.T) {
	f := newFixture()
	caller, receiver, callID := uuid.New(), uuid.New(), uuid.New()
	f.connect(receiver)

	f.callRepo.On("GetByID", mock.Anything, callID).Return(nil, domain.ErrNotFound)
	f.callRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Call) bool {
		return c.CallID == callID && c.RoomName == "call_"+callID.String()
	})).Return(nil)

	call, err := f.service.Initiate(context.Background(), &InitiateInput{
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   domain.CallTypeVoice,
		CallID:     callID,
	})

	require.NoError(t, err)
	assert.Equal(t, callID, call.CallID)
	f.callRepo.AssertExpectations(t)
}

func TestAnswer(t *testing.T) {
	caller, receiver := uuid.New(), uuid.New()
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVideo, time.Now())
	sdp := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)

	t.Run("receiver answers and caller is told", func(t *testing.T) {
		f := newFixture()
		callerConn := f.connect(caller)
		f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
		f.callRepo.On("Update", mock.Anything, mock.MatchedBy(func(c *domain.Call) bool {
			return c.Status == domain.CallStatusAnswered && string(c.Answer) == string(sdp)
		})).Return(nil)

		call, err := f.service.Answer(context.Background(), base.CallID, receiver, sdp)

		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusAnswered, call.Status)
		answered := callerConn.received(realtime.EventCallAnswered)
		require.Len(t, answered, 1)
		assert.JSONEq(t, string(sdp), string(answered[0].(realtime.CallLifecyclePayload).Answer))
	})

	t.Run("caller disconnected still persists", func(t *testing.T) {
		f := newFixture()
		f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
		f.callRepo.On("Update", mock.Anything, mock.Anything).Return(nil)

		_, err := f.service.Answer(context.Background(), base.CallID, receiver, nil)

		require.NoError(t, err)
		f.callRepo.AssertNumberOfCalls(t, "Update", 1)
	})

	t.Run("caller may not answer", func(t *testing.T) {
		f := newFixture()
		f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)

		_, err := f.service.Answer(context.Background(), base.CallID, caller, sdp)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized))
		assert.Equal(t, "you may not perform this action", apperrors.GetAppError(err).Message)
		f.callRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("declined call cannot be answered", func(t *testing.T) {
		f := newFixture()
		declined := base
		declined.Status = domain.CallStatusDeclined
		f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(declined), nil)

		_, err := f.service.Answer(context.Background(), base.CallID, receiver, sdp)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotActive))
	})

	t.Run("unknown call", func(t *testing.T) {
		f := newFixture()
		f.callRepo.On("GetByID", mock.Anything, mock.Anything).Return(nil, domain.ErrNotFound)

		_, err := f.service.Answer(context.Background(), uuid.New(), receiver, sdp)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
	})
}

func TestAnswer_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(domain.ErrVersionConflict).Once()
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.service.Answer(context.Background(), base.CallID, receiver, nil)

	require.NoError(t, err)
	f.callRepo.AssertNumberOfCalls(t, "GetByID", 2)
	f.callRepo.AssertNumberOfCalls(t, "Update", 2)
}

func TestAnswer_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(domain.ErrVersionConflict)

	_, err := f.service.Answer(context.Background(), base.CallID, receiver, nil)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	f.callRepo.AssertNumberOfCalls(t, "Update", 3)
}

func TestAnswer_StorageFailureSurfaces(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	callerConn := f.connect(caller)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	_, err := f.service.Answer(context.Background(), base.CallID, receiver, nil)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	assert.Zero(t, callerConn.count(), "nothing is relayed when the transition was not stored")
}

func TestDecline(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	callerConn := f.connect(caller)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(nil)

	call, err := f.service.Decline(context.Background(), base.CallID, receiver)

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, call.Status)
	assert.Len(t, callerConn.received(realtime.EventCallDeclined), 1)

	_, err = f.service.Decline(context.Background(), base.CallID, caller)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized))
}

func TestEnd_RelaysDurationToOtherParty(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	receiverConn := f.connect(receiver)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVideo, f.now)
	base.Status = domain.CallStatusAnswered
	f.now = f.now.Add(75 * time.Second)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(nil)

	call, err := f.service.End(context.Background(), base.CallID, caller)

	require.NoError(t, err)
	assert.Equal(t, 75, call.Duration)
	ended := receiverConn.received(realtime.EventCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, 75, ended[0].(realtime.CallLifecyclePayload).Duration)
}

func TestEnd_AlreadyEndedIsNoOp(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	receiverConn := f.connect(receiver)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVideo, f.now)
	base.Finish(domain.CallStatusEnded, f.now.Add(30*time.Second))
	endTime := *base.EndTime
	f.now = f.now.Add(time.Hour)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)

	call, err := f.service.End(context.Background(), base.CallID, receiver)

	require.NoError(t, err)
	assert.Equal(t, endTime, *call.EndTime)
	assert.Equal(t, 30, call.Duration)
	assert.Zero(t, receiverConn.count())
	f.callRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestEnd_StrangerRejected(t *testing.T) {
	f := newFixture()
	base := *domain.NewCall(uuid.New(), uuid.New(), uuid.New(), domain.CallTypeVoice, f.now)
	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)

	_, err := f.service.End(context.Background(), base.CallID, uuid.New())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized))
}

func TestRelayIceCandidate_AuditFailureDoesNotBlockRelay(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	receiverConn := f.connect(receiver)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVideo, f.now)
	candidate := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.2 53421 typ host"}`)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("AppendIceCandidate", mock.Anything, base.CallID, candidate).Return(errors.New("write timeout"))

	err := f.service.RelayIceCandidate(context.Background(), base.CallID, caller, candidate)

	require.NoError(t, err)
	relayed := receiverConn.received(realtime.EventIceCandidate)
	require.Len(t, relayed, 1)
	assert.Equal(t, candidate, relayed[0].(realtime.CallSignalPayload).Candidate)
	f.callRepo.AssertExpectations(t)
}

func TestRelayOffer(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	receiverConn := f.connect(receiver)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVideo, f.now)
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("SaveOffer", mock.Anything, base.CallID, offer).Return(nil)

	require.NoError(t, f.service.RelayOffer(context.Background(), base.CallID, caller, offer))
	assert.Len(t, receiverConn.received(realtime.EventCallOffer), 1)

	err := f.service.RelayOffer(context.Background(), base.CallID, uuid.New(), offer)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized))
	assert.Len(t, receiverConn.received(realtime.EventCallOffer), 1)
}

func TestRelayAnswerSDP_PeerOfflineIsSilent(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVideo, f.now)
	answer := json.RawMessage(`{"type":"answer"}`)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("SaveAnswer", mock.Anything, base.CallID, answer).Return(nil)

	assert.NoError(t, f.service.RelayAnswerSDP(context.Background(), base.CallID, receiver, answer))
}

func TestMarkMissed(t *testing.T) {
	f := newFixture()
	caller, receiver := uuid.New(), uuid.New()
	callerConn := f.connect(caller)
	base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)

	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
	f.callRepo.On("Update", mock.Anything, mock.MatchedBy(func(c *domain.Call) bool {
		return c.Status == domain.CallStatusMissed
	})).Return(nil)
	f.notifier.On("SendToUser", mock.Anything, receiver, "Missed call", mock.Anything, mock.Anything).Return(nil)

	marked, err := f.service.MarkMissed(context.Background(), base.CallID)

	require.NoError(t, err)
	assert.True(t, marked)
	assert.Len(t, callerConn.received(realtime.EventCallEnded), 1)
	f.notifier.AssertExpectations(t)
}

func TestMarkMissed_SkipsAnsweredCall(t *testing.T) {
	f := newFixture()
	base := *domain.NewCall(uuid.New(), uuid.New(), uuid.New(), domain.CallTypeVoice, f.now)
	base.Status = domain.CallStatusAnswered
	f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)

	marked, err := f.service.MarkMissed(context.Background(), base.CallID)

	require.NoError(t, err)
	assert.False(t, marked)
	f.notifier.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEndAll(t *testing.T) {
	f := newFixture()
	user := uuid.New()
	a := *domain.NewCall(uuid.New(), user, uuid.New(), domain.CallTypeVoice, f.now)
	b := *domain.NewCall(uuid.New(), uuid.New(), user, domain.CallTypeVideo, f.now)
	b.Status = domain.CallStatusAnswered

	f.callRepo.On("FindActiveByParticipant", mock.Anything, user).Return([]*domain.Call{copyOf(a)(), copyOf(b)()}, nil)
	f.callRepo.On("GetByID", mock.Anything, a.CallID).Return(copyOf(a), nil)
	f.callRepo.On("GetByID", mock.Anything, b.CallID).Return(copyOf(b), nil)
	f.callRepo.On("Update", mock.Anything, mock.Anything).Return(nil)

	n, err := f.service.EndAll(context.Background(), user)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.callRepo.AssertNumberOfCalls(t, "Update", 2)
}

func TestHistory_ClampsLimit(t *testing.T) {
	f := newFixture()
	user := uuid.New()
	f.callRepo.On("GetUserCalls", mock.Anything, user, 20, 0).Return([]*domain.Call{}, nil).Once()
	f.callRepo.On("GetUserCalls", mock.Anything, user, 101, 40).Return([]*domain.Call{}, nil).Once()

	_, err := f.service.History(context.Background(), user, 0, -5)
	require.NoError(t, err)
	_, err = f.service.History(context.Background(), user, 500, 40)
	require.NoError(t, err)

	f.callRepo.AssertExpectations(t)
}

// Answer succeeds exactly when the receiver answers a call that is still
// ringing; in every other case the stored status is left untouched.
func TestProperty_AnswerAuthorization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	statuses := []domain.CallStatus{
		domain.CallStatusInitiated,
		domain.CallStatusRinging,
		domain.CallStatusAnswered,
		domain.CallStatusDeclined,
		domain.CallStatusEnded,
		domain.CallStatusMissed,
	}

	properties.Property("answer iff receiver and answerable", prop.ForAll(
		func(statusIdx, actorIdx int) bool {
			f := newFixture()
			caller, receiver, stranger := uuid.New(), uuid.New(), uuid.New()
			actor := []uuid.UUID{caller, receiver, stranger}[actorIdx]

			base := *domain.NewCall(uuid.New(), caller, receiver, domain.CallTypeVoice, f.now)
			base.Status = statuses[statusIdx]

			var written *domain.Call
			f.callRepo.On("GetByID", mock.Anything, base.CallID).Return(copyOf(base), nil)
			f.callRepo.On("Update", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { written = args.Get(1).(*domain.Call) }).
				Return(nil)

			_, err := f.service.Answer(context.Background(), base.CallID, actor, nil)

			shouldSucceed := actor == receiver && base.Answerable()
			if shouldSucceed {
				return err == nil && written != nil && written.Status == domain.CallStatusAnswered
			}
			return err != nil && written == nil
		},
		gen.IntRange(0, len(statuses)-1),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
