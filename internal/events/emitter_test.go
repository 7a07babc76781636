package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"taskflow/internal/hub"
	"taskflow/pkg/types"
)

// recordingBroadcaster captures emits and can be told to fail
type recordingBroadcaster struct {
	mu       sync.Mutex
	failWith error
	emitted  []Event
	// committed reports whether the write had finished when Emit ran
	committed func() bool
	ordered   bool
}

func (b *recordingBroadcaster) Emit(room string, env types.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed != nil {
		b.ordered = b.committed()
	}
	if b.failWith != nil {
		return b.failWith
	}
	b.emitted = append(b.emitted, Event{Room: room, Name: env.Event, Payload: env.Data})
	return nil
}

func testTask() *types.Task {
	return &types.Task{ID: "t1", OrgID: "o1", ProjectID: "p1", Title: "T", Status: types.TaskStatusBacklog, Priority: types.TaskPriorityMedium}
}

func TestEventRouting(t *testing.T) {
	task := testTask()
	comment := &types.Comment{ID: "c1", OrgID: "o1", ProjectID: "p1", TaskID: "t1"}
	notification := &types.Notification{ID: "n1", UserID: "u2", OrgID: "o1"}
	activity := &types.Activity{ID: "a1", OrgID: "o1"}

	tests := []struct {
		name  string
		event Event
		room  string
		kind  string
	}{
		{"task created", TaskCreated(task), "org:o1:project:p1", types.EventTaskCreated},
		{"task updated", TaskUpdated(task), "org:o1:project:p1", types.EventTaskUpdated},
		{"task deleted", TaskDeleted("o1", "p1", "t1"), "org:o1:project:p1", types.EventTaskDeleted},
		{"comment created", CommentCreated(comment), "org:o1:project:p1", types.EventCommentCreated},
		{"notification", NotificationNew(notification), "user:u2", types.EventNotificationNew},
		{"activity", ActivityNew(activity), "org:o1", types.EventActivityNew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.event.Room != tt.room {
				t.Errorf("Room = %s, want %s", tt.event.Room, tt.room)
			}
			if tt.event.Name != tt.kind {
				t.Errorf("Name = %s, want %s", tt.event.Name, tt.kind)
			}
			if _, err := types.NewEnvelope(tt.event.Name, tt.event.Payload); err != nil {
				t.Errorf("Event payload should validate: %v", err)
			}
		})
	}
}

func TestEmitter_EmitsOnlyAfterWriteCommits(t *testing.T) {
	var mu sync.Mutex
	written := false
	b := &recordingBroadcaster{committed: func() bool {
		mu.Lock()
		defer mu.Unlock()
		return written
	}}
	e := NewEmitter(b, zaptest.NewLogger(t))

	err := e.Commit(context.Background(), func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		written = true
		return nil
	}, func() []Event { return []Event{TaskCreated(testTask())} })
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if len(b.emitted) != 1 {
		t.Fatalf("Expected 1 emit, got %d", len(b.emitted))
	}
	if !b.ordered {
		t.Error("Emit must happen after the write is acknowledged")
	}
}

func TestEmitter_FailedWriteEmitsNothing(t *testing.T) {
	b := &recordingBroadcaster{}
	e := NewEmitter(b, zaptest.NewLogger(t))
	writeErr := errors.New("constraint violation")

	called := false
	err := e.Commit(context.Background(), func(ctx context.Context) error {
		return writeErr
	}, func() []Event {
		called = true
		return []Event{TaskCreated(testTask())}
	})

	if !errors.Is(err, writeErr) {
		t.Errorf("Expected write error, got %v", err)
	}
	if called || len(b.emitted) != 0 {
		t.Error("No event may be built or emitted for a failed write")
	}
}

func TestEmitter_EmitFailureDoesNotFailMutation(t *testing.T) {
	b := &recordingBroadcaster{failWith: hub.ErrBroadcasterStopped}
	e := NewEmitter(b, zaptest.NewLogger(t))

	err := e.Commit(context.Background(), func(ctx context.Context) error { return nil },
		func() []Event { return []Event{TaskCreated(testTask())} })
	if err != nil {
		t.Errorf("Emit failures must not propagate, got %v", err)
	}
}

func TestEmitter_InvalidPayloadIsDropped(t *testing.T) {
	b := &recordingBroadcaster{}
	e := NewEmitter(b, zaptest.NewLogger(t))

	e.Publish(
		Event{Room: "org:o1:project:p1", Name: types.EventTaskCreated, Payload: map[string]any{"id": "t1"}},
		TaskDeleted("o1", "p1", "t1"),
	)

	if len(b.emitted) != 1 || b.emitted[0].Name != types.EventTaskDeleted {
		t.Errorf("Only the valid event should be emitted, got %+v", b.emitted)
	}
}

func TestEmitter_WithRealBroadcasterStopped(t *testing.T) {
	b := hub.NewBroadcaster(zaptest.NewLogger(t))
	e := NewEmitter(b, zaptest.NewLogger(t))

	// Broadcaster never started: the mutation still succeeds
	err := e.Commit(context.Background(), func(ctx context.Context) error { return nil },
		func() []Event { return []Event{TaskDeleted("o1", "p1", "t1")} })
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
