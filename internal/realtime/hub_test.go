package realtime

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

type recordedEvent struct {
	Event   string
	Payload any
}

type recorder struct {
	id string

	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

func newRecorder() *recorder {
	return &recorder{id: uuid.NewString()}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Emit(event string, payload any) error {
	if r.fail {
		return errors.New("closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Event: event, Payload: payload})
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

func TestHub_EmitToUserReachesPersonalRoom(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()
	conn, other := newRecorder(), newRecorder()

	hub.Attach(conn)
	hub.Attach(other)
	hub.Join(UserRoom(userID), conn)

	n := hub.EmitToUser(userID, EventNotification, NotificationPayload{Title: "hi"})

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{EventNotification}, conn.names())
	assert.Empty(t, other.names())
}

func TestHub_BroadcastExcludesConnection(t *testing.T) {
	hub := NewHub()
	a, b, c := newRecorder(), newRecorder(), newRecorder()
	for _, r := range []*recorder{a, b, c} {
		hub.Attach(r)
	}

	n := hub.Broadcast(EventUserOnline, nil, a.ID())

	assert.Equal(t, 2, n)
	assert.Empty(t, a.names())
	assert.Equal(t, []string{EventUserOnline}, b.names())
	assert.Equal(t, []string{EventUserOnline}, c.names())
}

func TestHub_DetachLeavesRooms(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()
	conn := newRecorder()
	hub.Attach(conn)
	hub.Join(UserRoom(userID), conn)
	assert.Equal(t, 1, hub.RoomSize(UserRoom(userID)))

	hub.Detach(conn)

	assert.Zero(t, hub.Count())
	assert.Zero(t, hub.RoomSize(UserRoom(userID)))
	assert.Zero(t, hub.EmitToUser(userID, EventNotification, nil))
}

func TestHub_JoinIgnoresUnattached(t *testing.T) {
	hub := NewHub()
	hub.Join("room", newRecorder())
	assert.Zero(t, hub.RoomSize("room"))
}

func TestHub_FailedEmitNotCounted(t *testing.T) {
	hub := NewHub()
	ok, broken := newRecorder(), newRecorder()
	broken.fail = true
	hub.Attach(ok)
	hub.Attach(broken)

	assert.Equal(t, 1, hub.Broadcast(EventUserOffline, nil, ""))
}

type closingRecorder struct {
	*recorder
	codes []int
}

func (c *closingRecorder) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

func TestHub_CloseSendsGoingAway(t *testing.T) {
	hub := NewHub()
	conn := &closingRecorder{recorder: newRecorder()}
	hub.Attach(conn)
	hub.Join("room", conn)

	hub.Close()

	assert.Equal(t, []int{websocket.CloseGoingAway}, conn.codes)
	assert.Zero(t, hub.RoomSize("room"))
}
