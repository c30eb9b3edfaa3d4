package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/presence"
	"teamchat-backend/internal/realtime"
	"teamchat-backend/internal/service/call"
	"teamchat-backend/internal/service/groupcall"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/metrics"
)

const testOrigin = "https://app.teamchat.test"

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockPresenceMirror struct {
	mock.Mock
}

func (m *MockPresenceMirror) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockPresenceMirror) SetUserOffline(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error {
	return m.Called(ctx, userID, lastSeen).Error(0)
}

type MockCallController struct {
	mock.Mock
}

func (m *MockCallController) Initiate(ctx context.Context, input *call.InitiateInput) (*domain.Call, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallController) Answer(ctx context.Context, callID, answererID uuid.UUID, answer json.RawMessage) (*domain.Call, error) {
	args := m.Called(ctx, callID, answererID, answer)
	return nil, args.Error(1)
}

func (m *MockCallController) Decline(ctx context.Context, callID, declinerID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID, declinerID)
	return nil, args.Error(1)
}

func (m *MockCallController) End(ctx context.Context, callID, enderID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID, enderID)
	return nil, args.Error(1)
}

func (m *MockCallController) RelayOffer(ctx context.Context, callID, fromID uuid.UUID, offer json.RawMessage) error {
	return m.Called(ctx, callID, fromID, offer).Error(0)
}

func (m *MockCallController) RelayAnswerSDP(ctx context.Context, callID, fromID uuid.UUID, answer json.RawMessage) error {
	return m.Called(ctx, callID, fromID, answer).Error(0)
}

func (m *MockCallController) RelayIceCandidate(ctx context.Context, callID, fromID uuid.UUID, candidate json.RawMessage) error {
	return m.Called(ctx, callID, fromID, candidate).Error(0)
}

func (m *MockCallController) EndAll(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MockGroupCallController struct {
	mock.Mock
}

func (m *MockGroupCallController) Initiate(ctx context.Context, input *groupcall.InitiateInput) (*domain.GroupCall, error) {
	args := m.Called(ctx, input)
	return nil, args.Error(1)
}

func (m *MockGroupCallController) Join(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error) {
	args := m.Called(ctx, callID, userID)
	return nil, args.Error(1)
}

func (m *MockGroupCallController) Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error) {
	args := m.Called(ctx, callID, userID)
	return nil, args.Error(1)
}

func (m *MockGroupCallController) End(ctx context.Context, callID, actorID uuid.UUID) (*domain.GroupCall, error) {
	args := m.Called(ctx, callID, actorID)
	return nil, args.Error(1)
}

func (m *MockGroupCallController) UpdateParticipantStatus(ctx context.Context, callID, actorID uuid.UUID, input groupcall.StatusInput) (*domain.GroupCall, error) {
	args := m.Called(ctx, callID, actorID, input)
	return nil, args.Error(1)
}

func (m *MockGroupCallController) Relay(ctx context.Context, input groupcall.SignalInput) error {
	return m.Called(ctx, input).Error(0)
}

func (m *MockGroupCallController) LeaveAll(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type directory map[uuid.UUID]*domain.User

func (d directory) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.User, error) {
	found := make(map[uuid.UUID]*domain.User, len(ids))
	for _, id := range ids {
		if u, ok := d[id]; ok {
			found[id] = u
		}
	}
	return found, nil
}

type fixture struct {
	gw       *Gateway
	server   *httptest.Server
	auth     *MockAuthenticator
	calls    *MockCallController
	groups   *MockGroupCallController
	registry *presence.Registry
	hub      *realtime.Hub
	users    directory
	reg      *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{testOrigin}
	}

	f := &fixture{
		auth:     new(MockAuthenticator),
		calls:    new(MockCallController),
		groups:   new(MockGroupCallController),
		registry: presence.NewRegistry(),
		hub:      realtime.NewHub(),
		users:    directory{},
		reg:      prometheus.NewRegistry(),
	}
	f.gw = NewGateway(Deps{
		Auth:       f.auth,
		Users:      f.users,
		Calls:      f.calls,
		GroupCalls: f.groups,
		Registry:   f.registry,
		Hub:        f.hub,
		Metrics:    metrics.NewMetrics("test", f.reg),
	}, cfg)

	router := gin.New()
	router.GET("/v1/ws", f.gw.ServeWS)
	f.server = httptest.NewServer(router)
	t.Cleanup(func() {
		f.gw.Shutdown()
		f.server.Close()
	})
	return f
}

// user registers a user the authenticator accepts and returns its token
func (f *fixture) user(name string) (*domain.User, string) {
	u := &domain.User{
		UserID:      uuid.New(),
		Username:    name,
		DisplayName: strings.ToUpper(name[:1]) + name[1:],
		Status:      domain.AccountActive,
	}
	token := "token-" + name
	f.users[u.UserID] = u
	f.auth.On("Authenticate", mock.Anything, token).Return(u, nil)
	return u, token
}

func (f *fixture) dialRaw(token, origin string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws?token=" + token
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

// connect dials and waits for the online snapshot so the connection is
// fully registered before the test proceeds
func (f *fixture) connect(t *testing.T, token string) (*websocket.Conn, []domain.PresenceEntry) {
	t.Helper()
	conn, _, err := f.dialRaw(token, testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var snapshot []domain.PresenceEntry
	require.NoError(t, json.Unmarshal(readEvent(t, conn, realtime.EventOnlineUsers), &snapshot))
	return conn, snapshot
}

// readEvent reads frames until one named want arrives
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		var env realtime.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Event == want {
			return env.Data
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(realtime.Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func waitFor(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestServeWS_RejectsBeforeUpgrade(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.auth.On("Authenticate", mock.Anything, "").
			Return(nil, apperrors.AuthenticationFailedError("Missing token"))

		_, resp, err := f.dialRaw("", testOrigin)

		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Zero(t, f.registry.Count())
	})

	t.Run("foreign origin", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, token := f.user("alice")

		_, resp, err := f.dialRaw(token, "https://evil.example")

		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Zero(t, f.registry.Count())
	})

	t.Run("no origin", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, token := f.user("alice")

		_, resp, err := f.dialRaw(token, "")

		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("at capacity", func(t *testing.T) {
		f := newFixture(t, Config{MaxConnections: 1})
		_, aliceToken := f.user("alice")
		_, bobToken := f.user("bob")
		f.connect(t, aliceToken)

		_, resp, err := f.dialRaw(bobToken, testOrigin)

		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, 1, f.registry.Count())
	})
}

func TestServeWS_AcceptsBearerHeaderAndWildcardOrigin(t *testing.T) {
	f := newFixture(t, Config{AllowedOrigins: []string{"*"}})
	alice, token := f.user("alice")

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": []string{"Bearer " + token}})
	require.NoError(t, err)
	defer conn.Close()

	readEvent(t, conn, realtime.EventOnlineUsers)
	assert.True(t, f.registry.IsOnline(alice.UserID))
}

func TestConnect_PresenceAnnouncements(t *testing.T) {
	f := newFixture(t, Config{})
	alice, aliceToken := f.user("alice")
	bob, bobToken := f.user("bob")

	aliceConn, snapshot := f.connect(t, aliceToken)
	require.Len(t, snapshot, 1)
	assert.Equal(t, alice.UserID, snapshot[0].UserID)

	_, snapshot = f.connect(t, bobToken)
	require.Len(t, snapshot, 2)
	assert.Equal(t, alice.UserID, snapshot[0].UserID, "oldest connection first")
	assert.Equal(t, bob.UserID, snapshot[1].UserID)
	require.NotNil(t, snapshot[1].User)
	assert.Equal(t, "bob", snapshot[1].User.Username)

	var online domain.PresenceEntry
	require.NoError(t, json.Unmarshal(readEvent(t, aliceConn, realtime.EventUserOnline), &online))
	assert.Equal(t, bob.UserID, online.UserID)
	assert.Equal(t, 1, f.hub.RoomSize(realtime.UserRoom(bob.UserID)))

	count, err := testutil.GatherAndCount(f.reg, "websocket_messages_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestDispatch_CallInitiate(t *testing.T) {
	f := newFixture(t, Config{})
	alice, token := f.user("alice")
	receiverID := uuid.New()
	conn, _ := f.connect(t, token)

	done := make(chan struct{})
	f.calls.On("Initiate", mock.Anything, mock.MatchedBy(func(in *call.InitiateInput) bool {
		return in.CallerID == alice.UserID && in.ReceiverID == receiverID && in.CallType == domain.CallTypeVideo
	})).Return(&domain.Call{}, nil).Run(func(mock.Arguments) { close(done) })

	send(t, conn, realtime.EventCallInitiate, map[string]any{
		"receiverId": receiverID,
		"callType":   "video",
	})

	waitFor(t, done, "Initiate")
	f.calls.AssertExpectations(t)
}

func TestDispatch_ErrorsGoToActor(t *testing.T) {
	f := newFixture(t, Config{})
	_, token := f.user("alice")
	conn, _ := f.connect(t, token)
	peer := uuid.New()

	f.calls.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, apperrors.PeerUnreachableError(peer.String()))

	send(t, conn, realtime.EventCallInitiate, map[string]any{"receiverId": peer, "callType": "voice"})

	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, conn, realtime.EventError), &payload))
	assert.Equal(t, realtime.EventCallInitiate, payload.Event)
	assert.Equal(t, string(apperrors.ErrCodePeerUnreachable), payload.Code)

	count, err := testutil.GatherAndCount(f.reg, "signaling_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatch_MalformedFrames(t *testing.T) {
	f := newFixture(t, Config{})
	_, token := f.user("alice")
	conn, _ := f.connect(t, token)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, conn, realtime.EventError), &payload))
	assert.Equal(t, string(apperrors.ErrCodeValidation), payload.Code)

	send(t, conn, realtime.EventCallAnswer, map[string]any{})
	require.NoError(t, json.Unmarshal(readEvent(t, conn, realtime.EventError), &payload))
	assert.Equal(t, realtime.EventCallAnswer, payload.Event)
	assert.Equal(t, string(apperrors.ErrCodeMissingField), payload.Code)

	f.calls.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_GroupEvents(t *testing.T) {
	f := newFixture(t, Config{})
	alice, token := f.user("alice")
	conn, _ := f.connect(t, token)
	callID := uuid.New()

	t.Run("participant status defaults to sender", func(t *testing.T) {
		done := make(chan struct{})
		f.groups.On("UpdateParticipantStatus", mock.Anything, callID, alice.UserID,
			mock.MatchedBy(func(in groupcall.StatusInput) bool {
				return in.TargetUserID == alice.UserID && in.IsMuted != nil && *in.IsMuted && in.IsVideoEnabled == nil
			})).Return(nil, nil).Once().Run(func(mock.Arguments) { close(done) })

		send(t, conn, realtime.EventGroupStatus, map[string]any{"callId": callID, "isMuted": true})

		waitFor(t, done, "UpdateParticipantStatus")
	})

	t.Run("signal keeps its kind", func(t *testing.T) {
		done := make(chan struct{})
		f.groups.On("Relay", mock.Anything, mock.MatchedBy(func(in groupcall.SignalInput) bool {
			return in.Event == realtime.EventGroupCandidate && in.FromID == alice.UserID && in.TargetID == nil
		})).Return(nil).Once().Run(func(mock.Arguments) { close(done) })

		send(t, conn, realtime.EventGroupCandidate, map[string]any{
			"callId":  callID,
			"payload": map[string]any{"candidate": "a=1"},
		})

		waitFor(t, done, "Relay")
	})
}

func TestDisconnect_BroadcastsOfflineAndReconciles(t *testing.T) {
	f := newFixture(t, Config{DisconnectGrace: 20 * time.Millisecond})
	mirror := new(MockPresenceMirror)
	f.gw.Mirror = mirror

	alice, aliceToken := f.user("alice")
	_, bobToken := f.user("bob")

	offline := make(chan struct{})
	mirror.On("SetUserOnline", mock.Anything, mock.Anything).Return(nil)
	mirror.On("SetUserOffline", mock.Anything, alice.UserID, mock.AnythingOfType("time.Time")).
		Return(nil).Run(func(mock.Arguments) { close(offline) })

	bobConn, _ := f.connect(t, bobToken)
	aliceConn, _ := f.connect(t, aliceToken)
	readEvent(t, bobConn, realtime.EventUserOnline)

	reconciled := make(chan struct{})
	f.groups.On("LeaveAll", mock.Anything, alice.UserID).Return(1, nil)
	f.calls.On("EndAll", mock.Anything, alice.UserID).Return(0, nil).Run(func(mock.Arguments) { close(reconciled) })

	require.NoError(t, aliceConn.Close())

	var gone domain.PresenceEntry
	require.NoError(t, json.Unmarshal(readEvent(t, bobConn, realtime.EventUserOffline), &gone))
	assert.Equal(t, alice.UserID, gone.UserID)
	assert.False(t, gone.LastSeen.IsZero())

	waitFor(t, offline, "presence mirror")
	waitFor(t, reconciled, "reconciliation")
	assert.False(t, f.registry.IsOnline(alice.UserID))
	f.groups.AssertExpectations(t)
}

func TestDisconnect_ReconnectWithinGrace(t *testing.T) {
	f := newFixture(t, Config{DisconnectGrace: 200 * time.Millisecond})
	alice, token := f.user("alice")

	first, _ := f.connect(t, token)
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return !f.registry.IsOnline(alice.UserID) }, 2*time.Second, 5*time.Millisecond)

	f.connect(t, token)
	time.Sleep(300 * time.Millisecond)

	f.groups.AssertNotCalled(t, "LeaveAll", mock.Anything, mock.Anything)
	f.calls.AssertNotCalled(t, "EndAll", mock.Anything, mock.Anything)
}

func TestDisconnect_StaleConnectionKeepsPresence(t *testing.T) {
	f := newFixture(t, Config{})
	alice, token := f.user("alice")

	older, _ := f.connect(t, token)
	f.connect(t, token)
	current, ok := f.registry.Lookup(alice.UserID)
	require.True(t, ok)

	require.NoError(t, older.Close())
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	still, ok := f.registry.Lookup(alice.UserID)
	require.True(t, ok)
	assert.Equal(t, current.ID(), still.ID())
}

func TestDisconnect_ClosesAllUserConnections(t *testing.T) {
	f := newFixture(t, Config{})
	alice, token := f.user("alice")
	conn, _ := f.connect(t, token)

	assert.Equal(t, 1, f.gw.Disconnect(alice.UserID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
			break
		}
	}
	require.Eventually(t, func() bool { return !f.registry.IsOnline(alice.UserID) }, 2*time.Second, 5*time.Millisecond)
}
