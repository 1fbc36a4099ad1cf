package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"parley/internal/cache"
	"parley/internal/roomtree"
	"parley/internal/session"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// DefaultHistoryLimit is the number of records delivered on join when no
// limit is configured.
const DefaultHistoryLimit = 50

// Engine orchestrates the real-time messaging core: session-to-room binding,
// room presence, the per-room message cache, broadcast fanout and direct
// message delivery. It holds no state of its own beyond per-room publish
// locks; state lives in the injected registry, tree and cache.
//
// Every operation validates its inputs before mutating any shared structure,
// so a failed event leaves the registry, tree and cache untouched.
type Engine struct {
	store     interfaces.DurableStore
	transport interfaces.Transport
	sessions  *session.Registry
	tree      *roomtree.Tree
	cache     *cache.MessageCache

	historyLimit int

	// Per-room locks serialize the persist -> cache -> fanout sequence so
	// that, within one room, delivery order matches persistence order.
	// Operations on different rooms interleave freely.
	roomMu    sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// New creates a messaging engine. A non-positive historyLimit falls back to
// DefaultHistoryLimit.
func New(store interfaces.DurableStore, transport interfaces.Transport, sessions *session.Registry, tree *roomtree.Tree, msgCache *cache.MessageCache, historyLimit int) *Engine {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Engine{
		store:        store,
		transport:    transport,
		sessions:     sessions,
		tree:         tree,
		cache:        msgCache,
		historyLimit: historyLimit,
		roomLocks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) roomLock(roomID string) *sync.Mutex {
	e.roomMu.Lock()
	defer e.roomMu.Unlock()

	lock, exists := e.roomLocks[roomID]
	if !exists {
		lock = &sync.Mutex{}
		e.roomLocks[roomID] = lock
	}
	return lock
}

// Connect registers a session for an already-authenticated identity, binds
// the connection to the user's personal channel for direct message delivery,
// and acknowledges the initiating connection only.
func (e *Engine) Connect(ctx context.Context, connID, userID string) error {
	if connID == "" || userID == "" {
		return ErrMissingData
	}

	if _, err := e.sessions.Register(connID, userID); err != nil {
		return err
	}

	e.transport.JoinGroup(connID, userID)

	if err := e.transport.EmitToConn(connID, types.EventConnected, types.ConnectedPayload{UserID: userID}); err != nil {
		log.Printf("Failed to acknowledge connect: conn=%s user=%s err=%v", connID, userID, err)
	}

	log.Printf("Session connected: conn=%s user=%s", connID, userID)
	return nil
}

// Disconnect unregisters a session and, if it occupied a room, removes its
// presence, leaves the transport group and notifies the remaining members
// with a transient system message. Disconnect of an unknown connection is a
// no-op, so duplicate disconnects are harmless.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	sess, err := e.sessions.Unregister(connID)
	if err != nil {
		return
	}

	e.transport.LeaveGroup(connID, sess.UserID)

	roomID := sess.Room()
	if roomID == "" {
		log.Printf("Session disconnected: conn=%s user=%s", connID, sess.UserID)
		return
	}

	if room, err := e.store.FindRoomByID(ctx, roomID); err == nil {
		e.tree.RemoveUser(room.Name, sess.UserID)
	}
	e.transport.LeaveGroup(connID, roomID)

	username := sess.UserID
	if user, err := e.store.FindUserByID(ctx, sess.UserID); err == nil {
		username = user.Username
	}

	e.transport.EmitToGroup(roomID, types.EventMessage, types.SystemMessage{
		Username:  "System",
		Content:   fmt.Sprintf("%s has left the room.", username),
		Timestamp: time.Now().Format(types.ClockLayout),
	})

	log.Printf("Session disconnected: conn=%s user=%s room=%s", connID, sess.UserID, roomID)
}

// Join moves a session into a room: binds the transport group, records
// presence, delivers recent history to the joiner and announces the join to
// the whole room through the normal write-through path.
func (e *Engine) Join(ctx context.Context, connID, roomID string) error {
	sess, err := e.sessions.Lookup(connID)
	if err != nil {
		return err
	}
	if roomID == "" {
		return ErrMissingData
	}

	room, err := e.store.FindRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	user, err := e.store.FindUserByID(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	// A session occupies at most one room; joining a new room silently
	// vacates the old binding without a departure announcement.
	if prevID := sess.Room(); prevID != "" && prevID != roomID {
		if prev, err := e.store.FindRoomByID(ctx, prevID); err == nil {
			e.tree.RemoveUser(prev.Name, sess.UserID)
		}
		e.transport.LeaveGroup(connID, prevID)
	}

	if err := e.sessions.SetCurrentRoom(connID, roomID); err != nil {
		return err
	}

	e.transport.JoinGroup(connID, roomID)
	e.tree.FindOrCreate(room.Name)
	e.tree.AddUser(room.Name, sess.UserID)

	history, err := e.History(ctx, roomID)
	if err != nil {
		return err
	}
	if err := e.transport.EmitToConn(connID, types.EventChatHistory, types.ChatHistoryPayload{Messages: history}); err != nil {
		log.Printf("Failed to deliver history: conn=%s room=%s err=%v", connID, roomID, err)
	}

	log.Printf("Session joined room: conn=%s user=%s room=%s", connID, sess.UserID, roomID)
	return e.publish(ctx, roomID, sess.UserID, fmt.Sprintf("%s has joined the room.", user.Username))
}

// Leave takes a session out of its current room, mirroring Disconnect's
// cleanup, and announces the departure through the write-through path.
// No-op if the session is not in a room.
func (e *Engine) Leave(ctx context.Context, connID string) error {
	sess, err := e.sessions.Lookup(connID)
	if err != nil {
		return err
	}

	roomID := sess.Room()
	if roomID == "" {
		return nil
	}

	room, err := e.store.FindRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	user, err := e.store.FindUserByID(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	e.tree.RemoveUser(room.Name, sess.UserID)
	e.transport.LeaveGroup(connID, roomID)

	if err := e.publish(ctx, roomID, sess.UserID, fmt.Sprintf("%s has left the room.", user.Username)); err != nil {
		return err
	}

	if err := e.sessions.SetCurrentRoom(connID, ""); err != nil {
		return err
	}

	log.Printf("Session left room: conn=%s user=%s room=%s", connID, sess.UserID, roomID)
	return nil
}

// Broadcast persists a message authored by the session's user in its current
// room and fans it out to every connection in the room, the sender included.
// Empty text is silently ignored; a session outside any room fails with
// ErrNotInRoom.
func (e *Engine) Broadcast(ctx context.Context, connID, text string) error {
	sess, err := e.sessions.Lookup(connID)
	if err != nil {
		return err
	}

	roomID := sess.Room()
	if roomID == "" {
		return ErrNotInRoom
	}
	if text == "" {
		return nil
	}
	if err := types.ValidateContent(text); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingData, err)
	}

	return e.publish(ctx, roomID, sess.UserID, text)
}

// Direct persists a direct message and delivers it twice: to the recipient's
// personal channel and back to the sender's connection. Sender and recipient
// are deliberately not addressed as one group; they need not share any room.
func (e *Engine) Direct(ctx context.Context, connID, recipientID, text string) error {
	sess, err := e.sessions.Lookup(connID)
	if err != nil {
		return err
	}

	if recipientID == "" || text == "" {
		return ErrMissingData
	}

	if _, err := e.store.FindUserByID(ctx, recipientID); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return ErrRecipientNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	record, err := e.store.AppendDirectMessage(ctx, sess.UserID, recipientID, text, false, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	e.transport.EmitToGroup(recipientID, types.EventDirectMessage, record)
	if err := e.transport.EmitToConn(connID, types.EventDirectMessage, record); err != nil {
		log.Printf("Failed to echo direct message to sender: conn=%s err=%v", connID, err)
	}
	return nil
}

// History returns recent room history, serving from the cache when it holds
// anything and falling back to the durable store otherwise. A fallback read
// populates the cache oldest-first so subsequent joins are served in memory.
func (e *Engine) History(ctx context.Context, roomID string) ([]*types.MessageRecord, error) {
	lock := e.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	if records := e.cache.Recent(roomID, e.historyLimit); len(records) > 0 {
		return records, nil
	}

	records, err := e.store.RecentMessages(ctx, roomID, e.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	for _, record := range records {
		e.cache.Append(roomID, record)
	}
	if records == nil {
		records = []*types.MessageRecord{}
	}
	return records, nil
}

// PublishFile runs an already-stored file attachment through the room
// write-through path on behalf of the upload surface.
func (e *Engine) PublishFile(ctx context.Context, roomID, userID, content, filePath string) (*types.MessageRecord, error) {
	lock := e.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.store.AppendMessage(ctx, roomID, userID, content, true, filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	e.cache.Append(roomID, record)
	e.transport.EmitToGroup(roomID, types.EventMessage, record)
	return record, nil
}

// DirectFile persists and delivers a file attachment as a direct message on
// behalf of the upload surface.
func (e *Engine) DirectFile(ctx context.Context, senderID, recipientID, content, filePath string) (*types.MessageRecord, error) {
	if _, err := e.store.FindUserByID(ctx, recipientID); err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	record, err := e.store.AppendDirectMessage(ctx, senderID, recipientID, content, true, filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	e.transport.EmitToGroup(recipientID, types.EventDirectMessage, record)
	return record, nil
}

// MessageDeleted drops a message from the room's cached sequence after an
// administrative deletion, so stale history is never served.
func (e *Engine) MessageDeleted(roomID, messageID string) {
	e.cache.Remove(roomID, messageID)
}

// RoomDeleted clears a deleted room's cached history.
func (e *Engine) RoomDeleted(roomID string) {
	e.cache.Clear(roomID)
}

// publish is the shared write-through path: persist, then cache, then fan
// out, serialized per room. A persistence failure aborts before any cache
// mutation or emission.
func (e *Engine) publish(ctx context.Context, roomID, userID, content string) error {
	lock := e.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.store.AppendMessage(ctx, roomID, userID, content, false, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	e.cache.Append(roomID, record)
	e.transport.EmitToGroup(roomID, types.EventMessage, record)
	return nil
}
