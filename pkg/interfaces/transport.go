package interfaces

// Transport delivers events to connections and supports group addressing for
// fanout. A groupKey is either a room ID or a user ID (the user's personal
// channel for direct message delivery).
//
// Group mutations are idempotent bookkeeping: joining a group twice or
// leaving one never joined is not an error.
type Transport interface {
	// JoinGroup adds a connection to a group.
	JoinGroup(connID, groupKey string)

	// LeaveGroup removes a connection from a group.
	LeaveGroup(connID, groupKey string)

	// EmitToGroup delivers an event to every connection in a group. Delivery
	// is best effort; individual write failures do not abort the fanout.
	EmitToGroup(groupKey, event string, payload interface{})

	// EmitToConn delivers an event to one specific connection.
	EmitToConn(connID, event string, payload interface{}) error
}
