package types

import (
	"regexp"
	"time"
)

// Compiled once at package initialization; validation sits on every message
// path.
var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// MaxContentBytes caps the content of a single message.
const MaxContentBytes = 65536

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// IsValidRoomName checks if a room name meets length requirements. Room names
// allow spaces, unlike usernames.
func IsValidRoomName(name string) bool {
	return len(name) >= 1 && len(name) <= 50
}

// ValidateContent checks message text against the size bounds.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// SplitTimestamp renders a point in time into the wire projection's
// time-of-day and date components.
func SplitTimestamp(t time.Time) (clock, date string) {
	return t.Format(ClockLayout), t.Format(DateLayout)
}
