// Package realtime carries JSON events over WebSocket connections and
// groups connections into rooms for fan-out.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/logger"
)

var (
	// ErrConnectionClosed is returned when emitting on a closed connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow client is dropped
	ErrSendBufferFull = errors.New("connection buffer exceeded")
)

// Conn is the subset of *websocket.Conn a Connection drives
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection wraps one socket. Outbound frames go through a buffered
// channel drained by a single writer goroutine, so Emit is safe for
// concurrent use.
type Connection struct {
	id     string
	UserID uuid.UUID

	ws    Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}

	// OnEmit observes every queued event; used for metrics
	OnEmit func(event string)
}

// NewConnection constructs a Connection for the given user
func NewConnection(userID uuid.UUID, ws Conn) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, constants.WebSocketSendBuffer),
		close:  make(chan struct{}),
	}
}

// ID implements presence.Handle
func (c *Connection) ID() string {
	return c.id
}

// Emit encodes event and payload into an envelope and queues it
func (c *Connection) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	if err := c.Send(frame); err != nil {
		return err
	}
	if c.OnEmit != nil {
		c.OnEmit(event)
	}
	return nil
}

// Send enqueues a raw frame. A client whose buffer is full is closed to
// keep backpressure bounded.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.close:
		return ErrConnectionClosed
	default:
	}

	select {
	case <-c.close:
		return ErrConnectionClosed
	case c.send <- frame:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.close
}

// Close terminates the connection and stops the write loop
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		deadline := time.Now().Add(constants.WebSocketWriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// StartWriter launches the write loop. It must be called exactly once.
func (c *Connection) StartWriter() {
	go c.writePump()
}

// ReadPump delivers inbound frames to handle, in order, until the socket
// fails or is closed. It blocks; the caller runs disconnect handling after
// it returns.
func (c *Connection) ReadPump(handle func(frame []byte)) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(constants.WebSocketMaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.UserID.String()),
					zap.String("connection_id", c.id),
					zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
