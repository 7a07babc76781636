package tracker

import "errors"

// Tracker errors
var (
	ErrForbidden   = errors.New("insufficient role for this operation")
	ErrInvalidUser = errors.New("invalid user id")
)
