package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/presence"
	"teamchat-backend/internal/realtime"
	"teamchat-backend/internal/service/call"
	"teamchat-backend/internal/service/groupcall"
	"teamchat-backend/pkg/constants"
	apperrors "teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
	"teamchat-backend/pkg/response"
)

// Authenticator resolves a connection token to an enabled user
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// UserDirectory loads user profiles for presence payloads
type UserDirectory interface {
	GetByIDs(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.User, error)
}

// PresenceMirror copies presence into shared storage for other processes
type PresenceMirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error
}

// CallController handles 1:1 call events
type CallController interface {
	Initiate(ctx context.Context, input *call.InitiateInput) (*domain.Call, error)
	Answer(ctx context.Context, callID, answererID uuid.UUID, answer json.RawMessage) (*domain.Call, error)
	Decline(ctx context.Context, callID, declinerID uuid.UUID) (*domain.Call, error)
	End(ctx context.Context, callID, enderID uuid.UUID) (*domain.Call, error)
	RelayOffer(ctx context.Context, callID, fromID uuid.UUID, offer json.RawMessage) error
	RelayAnswerSDP(ctx context.Context, callID, fromID uuid.UUID, answer json.RawMessage) error
	RelayIceCandidate(ctx context.Context, callID, fromID uuid.UUID, candidate json.RawMessage) error
	EndAll(ctx context.Context, userID uuid.UUID) (int, error)
}

// GroupCallController handles group call events
type GroupCallController interface {
	Initiate(ctx context.Context, input *groupcall.InitiateInput) (*domain.GroupCall, error)
	Join(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error)
	Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, error)
	End(ctx context.Context, callID, actorID uuid.UUID) (*domain.GroupCall, error)
	UpdateParticipantStatus(ctx context.Context, callID, actorID uuid.UUID, input groupcall.StatusInput) (*domain.GroupCall, error)
	Relay(ctx context.Context, input groupcall.SignalInput) error
	LeaveAll(ctx context.Context, userID uuid.UUID) (int, error)
}

// Config tunes the gateway
type Config struct {
	MaxConnections int
	// AllowedOrigins lists browser origins that may connect; "*" allows any
	AllowedOrigins []string
	// DisconnectGrace is how long a disconnected user has to come back
	// before their calls are left and ended. Zero disables it.
	DisconnectGrace time.Duration
}

// Deps groups the gateway's collaborators. Users and Mirror are optional.
type Deps struct {
	Auth       Authenticator
	Users      UserDirectory
	Mirror     PresenceMirror
	Calls      CallController
	GroupCalls GroupCallController
	Registry   *presence.Registry
	Hub        *realtime.Hub
	Metrics    *metrics.Metrics
}

// Gateway authenticates realtime connections, tracks their presence and
// dispatches their events to the call controllers
type Gateway struct {
	Deps
	cfg       Config
	upgrader  websocket.Upgrader
	semaphore chan struct{}
	now       func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]*time.Timer
}

// NewGateway creates a new gateway
func NewGateway(deps Deps, cfg Config) *Gateway {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}

	g := &Gateway{
		Deps:      deps,
		cfg:       cfg,
		semaphore: make(chan struct{}, cfg.MaxConnections),
		now:       time.Now,
		pending:   make(map[uuid.UUID]*time.Timer),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if origin != "" && origin == allowed {
			return true
		}
	}
	return false
}

// ServeWS handles GET /v1/ws. The token is taken from the "token" query
// parameter or a bearer Authorization header and checked before upgrading.
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
		defer func() { <-g.semaphore }()
	default:
		logger.Warn("WebSocket connection rejected: at capacity",
			zap.Int("max_connections", g.cfg.MaxConnections))
		response.Error(c, http.StatusServiceUnavailable, string(apperrors.ErrCodeServiceUnavail), "Server at capacity")
		return
	}

	user, err := g.Auth.Authenticate(c.Request.Context(), tokenFromRequest(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", user.UserID.String()),
			zap.Error(err))
		return
	}

	conn := realtime.NewConnection(user.UserID, ws)
	conn.OnEmit = func(event string) {
		g.Metrics.RecordWebSocketMessage(event, "out")
	}

	g.connect(conn, user)
	conn.StartWriter()
	conn.ReadPump(func(frame []byte) {
		g.dispatch(conn, frame)
	})
	g.disconnect(conn, user)
}

func tokenFromRequest(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (g *Gateway) connect(conn *realtime.Connection, user *domain.User) {
	userID := user.UserID
	g.cancelReconcile(userID)

	if prev, replaced := g.Registry.Register(userID, conn); replaced {
		logger.Info("Presence replaced by newer connection",
			zap.String("user_id", userID.String()),
			zap.String("previous_connection_id", prev.ID()))
	}
	g.Hub.Attach(conn)
	g.Hub.Join(realtime.UserRoom(userID), conn)
	g.Metrics.SetWebSocketConnections(g.Hub.Count())

	now := g.now()
	g.Hub.Broadcast(realtime.EventUserOnline, domain.PresenceEntry{
		UserID:   userID,
		User:     user.ToResponse(),
		LastSeen: now,
	}, conn.ID())

	if err := conn.Emit(realtime.EventOnlineUsers, g.onlineSnapshot()); err != nil {
		logger.Debug("Failed to send online snapshot",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	g.mirror(func(ctx context.Context) error {
		return g.Mirror.SetUserOnline(ctx, userID)
	})

	logger.Info("WebSocket connected",
		zap.String("user_id", userID.String()),
		zap.String("connection_id", conn.ID()))
}

func (g *Gateway) onlineSnapshot() []domain.PresenceEntry {
	entries := g.Registry.ListAll()
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}

	var users map[uuid.UUID]*domain.User
	if g.Users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()

		var err error
		users, err = g.Users.GetByIDs(ctx, ids)
		if err != nil {
			logger.Warn("Failed to load online user profiles", zap.Error(err))
		}
	}

	snapshot := make([]domain.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		entry := domain.PresenceEntry{UserID: e.UserID, LastSeen: e.ConnectedAt}
		if u, ok := users[e.UserID]; ok {
			entry.User = u.ToResponse()
		}
		snapshot = append(snapshot, entry)
	}
	return snapshot
}

func (g *Gateway) disconnect(conn *realtime.Connection, user *domain.User) {
	userID := user.UserID
	g.Hub.Detach(conn)
	g.Metrics.SetWebSocketConnections(g.Hub.Count())

	// a connection that was already replaced leaves the user online
	if !g.Registry.Deregister(userID, conn) {
		logger.Debug("Stale connection closed",
			zap.String("user_id", userID.String()),
			zap.String("connection_id", conn.ID()))
		return
	}

	lastSeen := g.now()
	g.Hub.Broadcast(realtime.EventUserOffline, domain.PresenceEntry{
		UserID:   userID,
		User:     user.ToResponse(),
		LastSeen: lastSeen,
	}, "")

	g.mirror(func(ctx context.Context) error {
		return g.Mirror.SetUserOffline(ctx, userID, lastSeen)
	})
	g.scheduleReconcile(userID)

	logger.Info("WebSocket disconnected",
		zap.String("user_id", userID.String()),
		zap.String("connection_id", conn.ID()))
}

// mirror runs fn against the presence mirror in the background
func (g *Gateway) mirror(fn func(ctx context.Context) error) {
	if g.Mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("Presence mirror update failed", zap.Error(err))
		}
	}()
}

func (g *Gateway) scheduleReconcile(userID uuid.UUID) {
	if g.cfg.DisconnectGrace <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.pending[userID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(g.cfg.DisconnectGrace, func() {
		g.mu.Lock()
		if g.pending[userID] == timer {
			delete(g.pending, userID)
		}
		g.mu.Unlock()
		g.reconcile(userID)
	})
	g.pending[userID] = timer
}

func (g *Gateway) cancelReconcile(userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.pending[userID]; ok {
		t.Stop()
		delete(g.pending, userID)
	}
}

// reconcile leaves and ends the calls of a user who did not come back
func (g *Gateway) reconcile(userID uuid.UUID) {
	if g.Registry.IsOnline(userID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	left, err := g.GroupCalls.LeaveAll(ctx, userID)
	if err != nil {
		logger.Warn("Failed to leave group calls after disconnect",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
	ended, err := g.Calls.EndAll(ctx, userID)
	if err != nil {
		logger.Warn("Failed to end calls after disconnect",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	if left > 0 || ended > 0 {
		logger.Info("Calls reconciled after disconnect",
			zap.String("user_id", userID.String()),
			zap.Int("group_calls_left", left),
			zap.Int("calls_ended", ended))
	}
}

// Disconnect closes every live connection of userID, e.g. after the
// account was disabled. It returns how many were closed.
func (g *Gateway) Disconnect(userID uuid.UUID) int {
	return g.Hub.CloseRoom(realtime.UserRoom(userID), websocket.ClosePolicyViolation, "account disabled")
}

// Shutdown stops pending reconciliations
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for userID, t := range g.pending {
		t.Stop()
		delete(g.pending, userID)
	}
}

func (g *Gateway) dispatch(conn *realtime.Connection, frame []byte) {
	cmd, event, err := realtime.Decode(frame)
	if event == "" {
		event = "unknown"
	}
	g.Metrics.RecordWebSocketMessage(event, "in")
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		err = g.handle(ctx, conn.UserID, cmd)
		cancel()
	}
	if err == nil {
		return
	}

	payload := realtime.NewErrorPayload(event, err)
	g.Metrics.RecordSignalingError(event, payload.Code)
	if payload.Code == string(apperrors.ErrCodeInternal) || payload.Code == string(apperrors.ErrCodeDatabase) {
		logger.Error("Realtime event failed",
			zap.String("event", event),
			zap.String("user_id", conn.UserID.String()),
			zap.Error(err))
	}
	if emitErr := conn.Emit(realtime.EventError, payload); emitErr != nil {
		logger.Debug("Failed to deliver error event",
			zap.String("user_id", conn.UserID.String()),
			zap.Error(emitErr))
	}
}

func (g *Gateway) handle(ctx context.Context, userID uuid.UUID, cmd realtime.Command) error {
	var err error

	switch c := cmd.(type) {
	case realtime.CallInitiate:
		_, err = g.Calls.Initiate(ctx, &call.InitiateInput{
			CallerID:   userID,
			ReceiverID: c.ReceiverID,
			CallType:   c.CallType,
			CallID:     c.CallID,
		})
	case realtime.CallAnswer:
		_, err = g.Calls.Answer(ctx, c.CallID, userID, c.Answer)
	case realtime.CallDecline:
		_, err = g.Calls.Decline(ctx, c.CallID, userID)
	case realtime.CallEnd:
		_, err = g.Calls.End(ctx, c.CallID, userID)
	case realtime.CallOffer:
		err = g.Calls.RelayOffer(ctx, c.CallID, userID, c.Offer)
	case realtime.CallAnswerSDP:
		err = g.Calls.RelayAnswerSDP(ctx, c.CallID, userID, c.Answer)
	case realtime.IceCandidate:
		err = g.Calls.RelayIceCandidate(ctx, c.CallID, userID, c.Candidate)
	case realtime.GroupCallInitiate:
		_, err = g.GroupCalls.Initiate(ctx, &groupcall.InitiateInput{
			InitiatorID: userID,
			GroupID:     c.GroupID,
			CallType:    c.CallType,
			CallID:      c.CallID,
		})
	case realtime.GroupCallJoin:
		_, err = g.GroupCalls.Join(ctx, c.CallID, userID)
	case realtime.GroupCallLeave:
		_, err = g.GroupCalls.Leave(ctx, c.CallID, userID)
	case realtime.GroupCallEnd:
		_, err = g.GroupCalls.End(ctx, c.CallID, userID)
	case realtime.GroupCallParticipantStatus:
		target := c.TargetUserID
		if target == uuid.Nil {
			target = userID
		}
		_, err = g.GroupCalls.UpdateParticipantStatus(ctx, c.CallID, userID, groupcall.StatusInput{
			TargetUserID:   target,
			IsMuted:        c.IsMuted,
			IsVideoEnabled: c.IsVideoEnabled,
		})
	case realtime.GroupCallSignal:
		err = g.GroupCalls.Relay(ctx, groupcall.SignalInput{
			Event:    c.Kind,
			CallID:   c.CallID,
			FromID:   userID,
			TargetID: c.TargetUserID,
			Payload:  c.Payload,
		})
	default:
		err = apperrors.ValidationError("unsupported event")
	}
	return err
}
