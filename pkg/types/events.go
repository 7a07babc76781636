package types

import (
	"encoding/json"
	"fmt"
)

// Server → client event names
const (
	EventTaskCreated     = "task:created"
	EventTaskUpdated     = "task:updated"
	EventTaskDeleted     = "task:deleted"
	EventCommentCreated  = "task:comment:created"
	EventNotificationNew = "notification:new"
	EventActivityNew     = "activity:new"
)

// Client → server control message names
const (
	ControlJoinRoom  = "joinRoom"
	ControlLeaveRoom = "leaveRoom"
)

// Envelope is an event name plus its payload as sent on the wire.
// No sequence number, emission timestamp or ack: delivery is fire-and-forget.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Frame is the decoded form of an inbound websocket message
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// TaskDeletedPayload is the task:deleted payload
type TaskDeletedPayload struct {
	TaskID string `json:"taskId"`
}

// NewEnvelope builds an envelope and validates its payload against the
// schema registered for the event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event, Data: data}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the payload type is the one declared for the event.
// ARCHITECTURAL DISCOVERY: payload shapes are fixed per event name and
// checked at the emission boundary rather than inferred from whatever the
// persistence layer returns
func (e Envelope) Validate() error {
	switch e.Event {
	case EventTaskCreated, EventTaskUpdated:
		task, ok := e.Data.(*Task)
		if !ok || task == nil {
			return fmt.Errorf("%w: %s expects *Task, got %T", ErrPayloadMismatch, e.Event, e.Data)
		}
		if task.ID == "" || task.OrgID == "" || task.ProjectID == "" {
			return fmt.Errorf("%w: %s task is missing identifiers", ErrPayloadMismatch, e.Event)
		}
	case EventTaskDeleted:
		payload, ok := e.Data.(TaskDeletedPayload)
		if !ok {
			return fmt.Errorf("%w: %s expects TaskDeletedPayload, got %T", ErrPayloadMismatch, e.Event, e.Data)
		}
		if payload.TaskID == "" {
			return fmt.Errorf("%w: %s without taskId", ErrPayloadMismatch, e.Event)
		}
	case EventCommentCreated:
		comment, ok := e.Data.(*Comment)
		if !ok || comment == nil {
			return fmt.Errorf("%w: %s expects *Comment, got %T", ErrPayloadMismatch, e.Event, e.Data)
		}
		if comment.TaskID == "" || comment.ProjectID == "" {
			return fmt.Errorf("%w: %s comment is missing taskId or projectId", ErrPayloadMismatch, e.Event)
		}
	case EventNotificationNew:
		notification, ok := e.Data.(*Notification)
		if !ok || notification == nil {
			return fmt.Errorf("%w: %s expects *Notification, got %T", ErrPayloadMismatch, e.Event, e.Data)
		}
		if notification.ID == "" || notification.UserID == "" {
			return fmt.Errorf("%w: %s notification is missing identifiers", ErrPayloadMismatch, e.Event)
		}
	case EventActivityNew:
		activity, ok := e.Data.(*Activity)
		if !ok || activity == nil {
			return fmt.Errorf("%w: %s expects *Activity, got %T", ErrPayloadMismatch, e.Event, e.Data)
		}
		if activity.ID == "" || activity.OrgID == "" {
			return fmt.Errorf("%w: %s activity is missing identifiers", ErrPayloadMismatch, e.Event)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
	return nil
}

// IsKnownEvent reports whether name is a server → client event
func IsKnownEvent(name string) bool {
	switch name {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted,
		EventCommentCreated, EventNotificationNew, EventActivityNew:
		return true
	default:
		return false
	}
}
