package transport

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON payload")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
