package tracker

import (
	"context"
	"fmt"

	"taskflow/internal/events"
	"taskflow/pkg/types"
)

// ListTasks lists a project's tasks, newest first
func (t *Tracker) ListTasks(ctx context.Context, orgID, projectID string) ([]*types.Task, error) {
	if _, err := t.store.GetProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}
	return t.store.ListTasks(ctx, orgID, projectID)
}

// GetTask returns one task of the project
func (t *Tracker) GetTask(ctx context.Context, orgID, projectID, taskID string) (*types.Task, error) {
	return t.store.GetTask(ctx, orgID, projectID, taskID)
}

// CreateTask validates and stores a task, then announces task:created on the
// project room
func (t *Tracker) CreateTask(ctx context.Context, actor types.Identity, orgID, projectID string, input types.Task) (*types.Task, error) {
	if _, err := t.store.GetProject(ctx, orgID, projectID); err != nil {
		return nil, err
	}

	task := input
	if err := task.Validate(); err != nil {
		return nil, err
	}

	now := t.now()
	task.ID = t.newID()
	task.OrgID = orgID
	task.ProjectID = projectID
	task.CreatedBy = actor.UserID
	task.CreatedAt = now
	task.UpdatedAt = now

	err := t.emitter.Commit(ctx, func(ctx context.Context) error {
		return t.store.CreateTask(ctx, &task)
	}, func() []events.Event {
		return []events.Event{events.TaskCreated(&task)}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	t.recordActivity(ctx, &types.Activity{
		OrgID:     orgID,
		ProjectID: projectID,
		TaskID:    task.ID,
		ActorID:   actor.UserID,
		Type:      types.ActivityTaskCreated,
		Meta:      map[string]string{"title": task.Title},
	})
	if task.Assignee != nil {
		t.assigned(ctx, actor, &task)
	}
	return &task, nil
}

// UpdateTask applies a partial update, then announces task:updated on the
// project room
func (t *Tracker) UpdateTask(ctx context.Context, actor types.Identity, orgID, projectID, taskID string, patch types.TaskPatch) (*types.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	task, err := t.store.GetTask(ctx, orgID, projectID, taskID)
	if err != nil {
		return nil, err
	}

	previousAssignee := ""
	if task.Assignee != nil {
		previousAssignee = *task.Assignee
	}

	patch.Apply(task)
	task.UpdatedAt = t.now()

	err = t.emitter.Commit(ctx, func(ctx context.Context) error {
		return t.store.UpdateTask(ctx, task)
	}, func() []events.Event {
		return []events.Event{events.TaskUpdated(task)}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	t.recordActivity(ctx, &types.Activity{
		OrgID:     orgID,
		ProjectID: projectID,
		TaskID:    task.ID,
		ActorID:   actor.UserID,
		Type:      types.ActivityTaskUpdated,
		Meta:      map[string]string{"title": task.Title, "status": task.Status, "priority": task.Priority},
	})
	if task.Assignee != nil && *task.Assignee != previousAssignee {
		t.assigned(ctx, actor, task)
	}
	return task, nil
}

// DeleteTask removes a task, then announces task:deleted on the project room
func (t *Tracker) DeleteTask(ctx context.Context, actor types.Identity, orgID, projectID, taskID string) error {
	var deleted *types.Task
	err := t.emitter.Commit(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = t.store.DeleteTask(ctx, orgID, projectID, taskID)
		return err
	}, func() []events.Event {
		return []events.Event{events.TaskDeleted(orgID, projectID, taskID)}
	})
	if err != nil {
		return err
	}

	t.recordActivity(ctx, &types.Activity{
		OrgID:     orgID,
		ProjectID: projectID,
		TaskID:    taskID,
		ActorID:   actor.UserID,
		Type:      types.ActivityTaskDeleted,
		Meta:      map[string]string{"title": deleted.Title},
	})
	return nil
}

// assigned logs the assignment and notifies the assignee unless they
// assigned themselves
func (t *Tracker) assigned(ctx context.Context, actor types.Identity, task *types.Task) {
	assignee := *task.Assignee

	t.recordActivity(ctx, &types.Activity{
		OrgID:     task.OrgID,
		ProjectID: task.ProjectID,
		TaskID:    task.ID,
		ActorID:   actor.UserID,
		Type:      types.ActivityTaskAssigned,
		Meta:      map[string]string{"assigneeId": assignee},
	})

	if assignee == actor.UserID {
		return
	}
	t.notifyBestEffort(ctx, &types.Notification{
		UserID:  assignee,
		OrgID:   task.OrgID,
		Type:    types.NotificationTypeTask,
		Message: fmt.Sprintf("%s assigned you to \"%s\"", displayName(actor), task.Title),
		Meta:    map[string]string{"taskId": task.ID, "projectId": task.ProjectID},
	})
}
