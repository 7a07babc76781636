package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"taskflow/pkg/interfaces"
	"taskflow/pkg/types"
)

var emitFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "taskflow_emit_failures_total",
	Help: "Events that could not be handed to the broadcaster, by event name",
}, []string{"event"})

// Event is one envelope bound for exactly one room
type Event struct {
	Room    string
	Name    string
	Payload any
}

// TaskCreated routes to the project room only
func TaskCreated(task *types.Task) Event {
	return Event{Room: types.ProjectRoom(task.OrgID, task.ProjectID), Name: types.EventTaskCreated, Payload: task}
}

// TaskUpdated routes to the project room only; org observers follow the
// activity log instead
func TaskUpdated(task *types.Task) Event {
	return Event{Room: types.ProjectRoom(task.OrgID, task.ProjectID), Name: types.EventTaskUpdated, Payload: task}
}

// TaskDeleted carries only the task id
func TaskDeleted(orgID, projectID, taskID string) Event {
	return Event{
		Room:    types.ProjectRoom(orgID, projectID),
		Name:    types.EventTaskDeleted,
		Payload: types.TaskDeletedPayload{TaskID: taskID},
	}
}

// CommentCreated routes to the project room of the commented task
func CommentCreated(comment *types.Comment) Event {
	return Event{Room: types.ProjectRoom(comment.OrgID, comment.ProjectID), Name: types.EventCommentCreated, Payload: comment}
}

// NotificationNew routes to the recipient's personal room
func NotificationNew(n *types.Notification) Event {
	return Event{Room: types.UserRoom(n.UserID), Name: types.EventNotificationNew, Payload: n}
}

// ActivityNew routes to the organization room
func ActivityNew(a *types.Activity) Event {
	return Event{Room: types.OrgRoom(a.OrgID), Name: types.EventActivityNew, Payload: a}
}

// Emitter hands domain events to the broadcaster after their write commits.
// ARCHITECTURAL DISCOVERY: the write and the emit are two steps joined by an
// on-commit continuation; only the write's error reaches the caller
type Emitter struct {
	broadcaster interfaces.Broadcaster
	logger      *zap.Logger
}

// NewEmitter creates an emitter over the given broadcaster
func NewEmitter(broadcaster interfaces.Broadcaster, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{broadcaster: broadcaster, logger: logger.Named("emitter")}
}

// Commit runs write and, only once it has been acknowledged, publishes the
// events built by onCommit. A failed write publishes nothing. Publishing
// never fails the mutation.
func (e *Emitter) Commit(ctx context.Context, write func(context.Context) error, onCommit func() []Event) error {
	if err := write(ctx); err != nil {
		return err
	}
	if onCommit != nil {
		e.Publish(onCommit()...)
	}
	return nil
}

// Publish emits each event independently; failures are logged and dropped
func (e *Emitter) Publish(events ...Event) {
	for _, ev := range events {
		envelope, err := types.NewEnvelope(ev.Name, ev.Payload)
		if err == nil {
			err = e.broadcaster.Emit(ev.Room, envelope)
		}
		if err != nil {
			emitFailuresTotal.WithLabelValues(ev.Name).Inc()
			e.logger.Warn("emit failed",
				zap.String("event", ev.Name),
				zap.String("room", ev.Room),
				zap.Error(err))
		}
	}
}
