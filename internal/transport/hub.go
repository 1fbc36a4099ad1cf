package transport

import (
	"encoding/json"
	"log"
	"sync"

	"parley/pkg/interfaces"
)

// Hub tracks live connections and their group memberships. A group key is
// either a room ID (everyone currently in the room) or a user ID (the user's
// personal channel, carrying direct messages and connect acknowledgements).
//
// The hub only addresses connections; which connections belong in which
// groups is decided by the messaging engine.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	groups map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*Connection),
		groups: make(map[string]map[string]struct{}),
	}
}

// Add registers a connection for addressing. The connection belongs to no
// groups until JoinGroup is called.
func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()
}

// Remove drops a connection and every group membership it held.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, connID)
	for key, members := range h.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, key)
		}
	}
}

// JoinGroup adds a connection to a group, creating the group lazily.
func (h *Hub) JoinGroup(connID, groupKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, exists := h.groups[groupKey]
	if !exists {
		members = make(map[string]struct{})
		h.groups[groupKey] = members
	}
	members[connID] = struct{}{}
}

// LeaveGroup removes a connection from a group, deleting the group when its
// last member leaves. Unknown groups and absent members are tolerated.
func (h *Hub) LeaveGroup(connID, groupKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, exists := h.groups[groupKey]
	if !exists {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, groupKey)
	}
}

// EmitToGroup marshals the event once and queues it on every member of the
// group. Best effort: slow or closed members drop the frame individually and
// never block the rest of the group.
func (h *Hub) EmitToGroup(groupKey, event string, payload interface{}) {
	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to marshal %s event for group %s: %v", event, groupKey, err)
		return
	}

	h.mu.RLock()
	members := make([]*Connection, 0, len(h.groups[groupKey]))
	for connID := range h.groups[groupKey] {
		if conn, exists := h.conns[connID]; exists {
			members = append(members, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range members {
		conn.send(frame)
	}
}

// EmitToConn delivers one event to a single connection.
func (h *Hub) EmitToConn(connID, event string, payload interface{}) error {
	h.mu.RLock()
	conn, exists := h.conns[connID]
	h.mu.RUnlock()

	if !exists {
		return interfaces.ErrConnNotFound
	}
	return conn.Emit(event, payload)
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

var _ interfaces.Transport = (*Hub)(nil)
