package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidID       = errors.New("id must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidTitle    = errors.New("task title is required")
	ErrInvalidStatus   = errors.New("status must be one of BACKLOG, IN_PROGRESS, REVIEW, DONE")
	ErrInvalidPriority = errors.New("priority must be one of LOW, MEDIUM, HIGH, URGENT")
	ErrEmptyComment    = errors.New("comment cannot be empty")
	ErrInvalidName     = errors.New("name must be 1-200 characters")
	ErrInvalidRole     = errors.New("role must be one of OWNER, ADMIN, MEMBER")

	ErrInvalidRoomKey  = errors.New("invalid room key")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrPayloadMismatch = errors.New("payload does not match event schema")
)
