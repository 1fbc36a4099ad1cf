package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidUsername = errors.New("username must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomName = errors.New("room name must be 1-50 characters")
	ErrInvalidEmail    = errors.New("email address is invalid")
	ErrContentTooLarge = errors.New("message content exceeds 64KB limit")
	ErrEmptyContent    = errors.New("message content cannot be empty")
)
