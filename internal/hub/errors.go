package hub

import "errors"

// Hub lifecycle and operation errors.
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrEventQueueFull    = errors.New("hub event queue is full")
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrNotJoined         = errors.New("connection has not joined the room")
	ErrRateLimitExceeded = errors.New("rate limit exceeded: 100 messages per minute")
	ErrStorage           = errors.New("message could not be stored")
)
