package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teamchat-backend/internal/presence"
	"teamchat-backend/pkg/logger"
)

// UserRoom returns the personal room name of userID
func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Hub tracks every live connection and the rooms they belong to. Unlike the
// presence registry it keeps replaced connections until they detach, so a
// personal room may briefly hold more than one socket for a user.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]presence.Handle            // connID -> handle
	rooms     map[string]map[string]presence.Handle // room -> connID -> handle
	connRooms map[string]map[string]struct{}        // connID -> rooms
}

// NewHub constructs an empty hub
func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]presence.Handle),
		rooms:     make(map[string]map[string]presence.Handle),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Attach starts tracking conn
func (h *Hub) Attach(conn presence.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[conn.ID()] = conn
	if h.connRooms[conn.ID()] == nil {
		h.connRooms[conn.ID()] = make(map[string]struct{})
	}
}

// Detach stops tracking conn and removes it from all of its rooms
func (h *Hub) Detach(conn presence.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := conn.ID()
	delete(h.conns, id)
	for room := range h.connRooms[id] {
		h.leaveLocked(room, id)
	}
	delete(h.connRooms, id)
}

// Join adds an attached connection to room
func (h *Hub) Join(room string, conn presence.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := conn.ID()
	if _, ok := h.conns[id]; !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]presence.Handle)
		h.rooms[room] = members
	}
	members[id] = conn
	h.connRooms[id][room] = struct{}{}
}

// Leave removes conn from room
func (h *Hub) Leave(room string, conn presence.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, conn.ID())
}

// EmitToRoom delivers the event to every connection in room and returns
// how many accepted it
func (h *Hub) EmitToRoom(room, event string, payload any) int {
	return h.emit(h.snapshotRoom(room), event, payload, "")
}

// EmitToUser delivers the event to the personal room of userID
func (h *Hub) EmitToUser(userID uuid.UUID, event string, payload any) int {
	return h.EmitToRoom(UserRoom(userID), event, payload)
}

// Broadcast delivers the event to every attached connection except the one
// whose ID is excludeConnID
func (h *Hub) Broadcast(event string, payload any, excludeConnID string) int {
	h.mu.RLock()
	targets := make([]presence.Handle, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	return h.emit(targets, event, payload, excludeConnID)
}

// Count returns the number of attached connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomSize returns the number of connections in room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close forgets every connection. Connections that expose Close are closed.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]presence.Handle)
	h.rooms = make(map[string]map[string]presence.Handle)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		if c, ok := conn.(interface{ Close(int, string) }); ok {
			c.Close(websocket.CloseGoingAway, "server shutdown")
		}
	}
}

// CloseRoom closes every closable connection in room and returns how many
// were closed. Connections detach themselves once their read loop exits.
func (h *Hub) CloseRoom(room string, code int, reason string) int {
	closed := 0
	for _, conn := range h.snapshotRoom(room) {
		if c, ok := conn.(interface{ Close(int, string) }); ok {
			c.Close(code, reason)
			closed++
		}
	}
	return closed
}

func (h *Hub) snapshotRoom(room string) []presence.Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	targets := make([]presence.Handle, 0, len(members))
	for _, conn := range members {
		targets = append(targets, conn)
	}
	return targets
}

func (h *Hub) emit(targets []presence.Handle, event string, payload any, excludeConnID string) int {
	delivered := 0
	for _, conn := range targets {
		if excludeConnID != "" && conn.ID() == excludeConnID {
			continue
		}
		if err := conn.Emit(event, payload); err != nil {
			logger.Debug("Dropped realtime event",
				zap.String("event", event),
				zap.String("connection_id", conn.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) leaveLocked(room, connID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if rooms, ok := h.connRooms[connID]; ok {
		delete(rooms, room)
	}
}
