package interfaces

import "errors"

// Store errors shared across components.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrUserExists      = errors.New("username or email already registered")
	ErrConnNotFound    = errors.New("connection not found")
)
