package interfaces

import (
	"context"

	"parley/pkg/types"
)

// DurableStore is the system of record for users, rooms, messages and direct
// messages. The messaging engine consults it as a fallback data source and as
// the write-through target for new messages; the HTTP API uses the full
// surface.
type DurableStore interface {
	// User operations.

	// CreateUser persists a new account. The password hash is produced by the
	// auth layer; the store never sees plaintext.
	CreateUser(ctx context.Context, username, email, passwordHash string, isAdmin bool) (*types.User, error)

	// FindUserByID returns a user or ErrUserNotFound.
	FindUserByID(ctx context.Context, id string) (*types.User, error)

	// FindUserByUsername returns a user or ErrUserNotFound.
	FindUserByUsername(ctx context.Context, username string) (*types.User, error)

	// ListUsers returns all registered users ordered by creation time.
	ListUsers(ctx context.Context) ([]*types.User, error)

	// DeleteUser removes an account.
	DeleteUser(ctx context.Context, id string) error

	// CountAdmins returns the number of admin accounts.
	CountAdmins(ctx context.Context) (int, error)

	// Room operations.

	// CreateRoom persists a new room; returns ErrRoomExists on a duplicate
	// name.
	CreateRoom(ctx context.Context, name string, isPrivate bool, createdBy string) (*types.Room, error)

	// FindRoomByID returns a room or ErrRoomNotFound.
	FindRoomByID(ctx context.Context, id string) (*types.Room, error)

	// FindRoomByName returns a room or ErrRoomNotFound.
	FindRoomByName(ctx context.Context, name string) (*types.Room, error)

	// ListRooms returns rooms ordered by creation time; private rooms are
	// included only when includePrivate is set.
	ListRooms(ctx context.Context, includePrivate bool) ([]*types.Room, error)

	// DeleteRoom removes a room and cascades to its messages.
	DeleteRoom(ctx context.Context, id string) error

	// Message operations.

	// AppendMessage persists a room message, assigning its ID and timestamp,
	// and returns the resulting projection.
	AppendMessage(ctx context.Context, roomID, userID, content string, isFile bool, filePath string) (*types.MessageRecord, error)

	// RecentMessages returns up to limit of the newest persisted messages for
	// a room, in ascending timestamp order.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.MessageRecord, error)

	// DeleteMessage removes one message and reports the room that held it so
	// callers can invalidate caches.
	DeleteMessage(ctx context.Context, id string) (roomID string, err error)

	// Direct message operations.

	// AppendDirectMessage persists a direct message with read=false, assigning
	// its ID and timestamp.
	AppendDirectMessage(ctx context.Context, senderID, recipientID, content string, isFile bool, filePath string) (*types.MessageRecord, error)

	// DirectMessagesBetween returns the full two-party thread in ascending
	// timestamp order.
	DirectMessagesBetween(ctx context.Context, userID, otherID string) ([]*types.MessageRecord, error)

	// MarkDirectMessagesRead flags everything sent from senderID to
	// recipientID as read.
	MarkDirectMessagesRead(ctx context.Context, recipientID, senderID string) error

	// UnreadCounts returns unread direct message counts for a recipient,
	// keyed by sender ID.
	UnreadCounts(ctx context.Context, recipientID string) (map[string]int, error)

	// Lifecycle.

	// HealthCheck verifies connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the underlying connection.
	Close() error
}
