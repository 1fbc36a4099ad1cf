package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parley/internal/auth"
	"parley/internal/engine"
	"parley/internal/session"
	"parley/pkg/types"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the deployment's reverse proxy.
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections, authenticates
// them, and pumps decoded events into the messaging engine.
type Handler struct {
	hub     *Hub
	engine  *engine.Engine
	tokens  *auth.TokenManager
	limiter *RateLimiter
}

func NewHandler(hub *Hub, eng *engine.Engine, tokens *auth.TokenManager, limiter *RateLimiter) *Handler {
	return &Handler{
		hub:     hub,
		engine:  eng,
		tokens:  tokens,
		limiter: limiter,
	}
}

// HandleWebSocket authenticates the token query parameter, upgrades the
// connection and registers the session. Authentication happens before the
// upgrade so rejected clients get a proper HTTP status.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "Missing token query parameter", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.Verify(tokenString)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(uuid.NewString(), claims.UserID, ws)
	h.hub.Add(conn)

	if err := h.engine.Connect(r.Context(), conn.ID(), claims.UserID); err != nil {
		log.Printf("Failed to register session: user=%s err=%v", claims.UserID, err)
		h.hub.Remove(conn.ID())
		_ = conn.Close()
		return
	}

	go h.handleConnection(conn)
}

// handleConnection owns the connection's read side: heartbeat monitoring and
// the event dispatch loop. Cleanup runs exactly once when the loop exits,
// whether the client closed cleanly or the socket failed.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.engine.Disconnect(context.Background(), conn.ID())
		h.hub.Remove(conn.ID())
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: conn=%s err=%v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		h.dispatch(conn, data)
	}
}

// dispatch decodes one inbound frame and routes it to the engine. Event
// failures are reported back to the sender only; malformed frames and
// unknown events get the same treatment so a buggy client can see what it
// sent wrong.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(conn, "malformed event frame")
		return
	}

	ctx := context.Background()

	switch env.Event {
	case types.EventJoin:
		var payload types.JoinPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.sendError(conn, "malformed join payload")
			return
		}
		h.report(conn, h.engine.Join(ctx, conn.ID(), payload.RoomID))

	case types.EventLeave:
		h.report(conn, h.engine.Leave(ctx, conn.ID()))

	case types.EventMessage:
		if !h.limiter.Allow(conn.UserID()) {
			h.sendError(conn, ErrRateLimited.Error())
			return
		}
		var payload types.TextPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.sendError(conn, "malformed message payload")
			return
		}
		h.report(conn, h.engine.Broadcast(ctx, conn.ID(), payload.Text))

	case types.EventDirectMessage:
		if !h.limiter.Allow(conn.UserID()) {
			h.sendError(conn, ErrRateLimited.Error())
			return
		}
		var payload types.DirectPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.sendError(conn, "malformed direct message payload")
			return
		}
		h.report(conn, h.engine.Direct(ctx, conn.ID(), payload.RecipientID, payload.Text))

	default:
		h.sendError(conn, "unknown event: "+env.Event)
	}
}

// report translates an engine error into an error event for the sender.
// Unknown-connection errors are dropped: they mean the session disconnected
// while the event was in flight, and there is nobody left to tell.
func (h *Handler) report(conn *Connection, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, session.ErrUnknownConnection) {
		return
	}

	switch {
	case errors.Is(err, engine.ErrRoomNotFound),
		errors.Is(err, engine.ErrNotInRoom),
		errors.Is(err, engine.ErrRecipientNotFound),
		errors.Is(err, engine.ErrMissingData):
		h.sendError(conn, err.Error())
	default:
		log.Printf("Event failed: conn=%s err=%v", conn.ID(), err)
		h.sendError(conn, "internal error")
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	if err := conn.Emit(types.EventError, types.ErrorPayload{Message: message}); err != nil {
		log.Printf("Failed to send error event: conn=%s err=%v", conn.ID(), err)
	}
}
