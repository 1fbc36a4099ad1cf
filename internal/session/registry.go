package session

import (
	"sync"
)

// Session binds one live transport connection to an authenticated user and
// the room it currently occupies, if any. Sessions are created and destroyed
// exclusively by the Registry.
type Session struct {
	ConnID string
	UserID string

	mu          sync.RWMutex
	currentRoom string
}

// Room returns the session's current room ID, or "" when the session is not
// in a room.
func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoom
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	s.currentRoom = roomID
	s.mu.Unlock()
}

// Registry maps connection identifiers to sessions. It is the single source
// of truth for who is connected and where: a session absent from the
// registry is disconnected for all purposes, which is also the guard that
// drops late events arriving after a disconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register creates a session for a connection with no current room. Fails
// with ErrDuplicateConnection if the connection ID is already present.
func (r *Registry) Register(connID, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connID]; exists {
		return nil, ErrDuplicateConnection
	}

	sess := &Session{ConnID: connID, UserID: userID}
	r.sessions[connID] = sess
	return sess, nil
}

// Lookup returns the session for a connection, or ErrUnknownConnection.
func (r *Registry) Lookup(connID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[connID]
	if !exists {
		return nil, ErrUnknownConnection
	}
	return sess, nil
}

// SetCurrentRoom updates which room a session occupies; pass "" to clear.
// Fails with ErrUnknownConnection if the connection is not registered.
func (r *Registry) SetCurrentRoom(connID, roomID string) error {
	r.mu.RLock()
	sess, exists := r.sessions[connID]
	r.mu.RUnlock()

	if !exists {
		return ErrUnknownConnection
	}
	sess.setRoom(roomID)
	return nil
}

// Unregister removes and returns the prior session so callers can clean up
// whatever room it held. Returns ErrUnknownConnection if absent, which makes
// repeated disconnects for the same connection idempotent.
func (r *Registry) Unregister(connID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[connID]
	if !exists {
		return nil, ErrUnknownConnection
	}
	delete(r.sessions, connID)
	return sess, nil
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
