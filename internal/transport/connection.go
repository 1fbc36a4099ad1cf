package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeBuffer bounds how many pending frames a slow client may queue
	// before senders start timing out.
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Connection wraps a WebSocket with a single writer goroutine. All frames
// funnel through writeCh, so concurrent emitters never race on the socket.
type Connection struct {
	id     string
	userID string

	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket and starts its writer goroutine.
func NewConnection(id, userID string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      id,
		userID:  userID,
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user the connection belongs to.
func (c *Connection) UserID() string { return c.userID }

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Emit sends one named event to the peer. It marshals the payload into the
// wire envelope and hands the frame to the writer goroutine, failing with
// ErrWriteTimeout if the client's buffer stays full too long.
func (c *Connection) Emit(event string, payload interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ErrInvalidJSON
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// send queues a pre-marshaled frame, dropping it if the connection is
// closed or the buffer stays full. Used for fanout where one slow client
// must not stall the rest of a room.
func (c *Connection) send(frame []byte) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	select {
	case c.writeCh <- frame:
	case <-time.After(writeTimeout):
	case <-c.ctx.Done():
	}
}

// Close shuts the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
