package types

import (
	"time"
)

// Event names emitted to clients over the transport.
const (
	EventConnected     = "connected"
	EventChatHistory   = "chat_history"
	EventMessage       = "message"
	EventDirectMessage = "direct_message"
	EventError         = "error"
)

// Event names consumed from clients.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// Timestamp layouts for message projections. The wire format splits a message
// timestamp into a time-of-day and a date component.
const (
	ClockLayout = "15:04:05"
	DateLayout  = "2006-01-02"
)

// User is a registered account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	PasswordHash string    `json:"-"`
}

// Ref returns the minimal projection handed to the messaging engine.
func (u *User) Ref() *UserRef {
	return &UserRef{ID: u.ID, Username: u.Username}
}

// UserRef identifies a user for routing and display purposes only.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Room is a named chat channel. Room names are globally unique; the durable
// store enforces this.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// MessageRecord is a read-optimized projection of a persisted message or
// direct message. The durable store's row is authoritative; this copy is what
// the cache holds and what clients receive.
//
// Room messages carry Username; direct messages carry SenderUsername,
// RecipientUsername and IsRead instead.
type MessageRecord struct {
	ID                string `json:"id"`
	Content           string `json:"content"`
	Timestamp         string `json:"timestamp"`
	Date              string `json:"date"`
	Username          string `json:"username,omitempty"`
	SenderUsername    string `json:"sender_username,omitempty"`
	RecipientUsername string `json:"recipient_username,omitempty"`
	IsFile            bool   `json:"is_file"`
	FilePath          string `json:"file_path,omitempty"`
	IsRead            bool   `json:"is_read,omitempty"`
}

// ConnectedPayload acknowledges a successful connect to the initiating
// connection only.
type ConnectedPayload struct {
	UserID string `json:"user_id"`
}

// ChatHistoryPayload delivers recent room history to a joining connection.
type ChatHistoryPayload struct {
	Messages []*MessageRecord `json:"messages"`
}

// ErrorPayload reports a recoverable per-event failure to the originating
// connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SystemMessage is a transient room notice broadcast without being persisted
// (disconnect announcements).
type SystemMessage struct {
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// JoinPayload is the inbound payload for a join event.
type JoinPayload struct {
	RoomID string `json:"room_id"`
}

// TextPayload is the inbound payload for a broadcast message event.
type TextPayload struct {
	Text string `json:"text"`
}

// DirectPayload is the inbound payload for a direct message event.
type DirectPayload struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}
