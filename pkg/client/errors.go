package client

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrUnauthorized  = errors.New("realtime handshake rejected: Unauthorized")
)

// User-visible messages for failed optimistic mutations
const (
	MsgUpdateTaskFailed       = "Failed to update task"
	MsgDeleteTaskFailed       = "Failed to delete task"
	MsgMarkNotificationFailed = "Failed to mark notification as read"
)

// MutationFailedError reports a rolled-back optimistic update. Message is
// meant for the user; Err is the underlying request failure.
type MutationFailedError struct {
	Key     string
	Message string
	Err     error
}

func (e *MutationFailedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *MutationFailedError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx REST response decoded from {error, code, message}
type APIError struct {
	StatusCode int    `json:"code"`
	Status     string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}
