package hub

import "errors"

// Broadcaster errors
var (
	ErrBroadcasterRunning         = errors.New("broadcaster is already running")
	ErrBroadcasterStopped         = errors.New("broadcaster is not running")
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before joining rooms")
)
