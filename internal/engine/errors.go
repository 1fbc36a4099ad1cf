package engine

import "errors"

// Event-level error taxonomy. All are recoverable: the transport reports them
// to the originating connection only and no shared state is mutated.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotInRoom         = errors.New("not in a room")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrMissingData       = errors.New("missing required data")

	// ErrPersistenceFailure wraps durable store I/O errors. The triggering
	// event is aborted without caching or broadcasting a partial result.
	ErrPersistenceFailure = errors.New("persistence failure")
)
