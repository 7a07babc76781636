package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotMember     = errors.New("not a member of this organization")
	ErrUnauthorized  = errors.New("unauthorized access")
)
