package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskflow/internal/events"
	"taskflow/pkg/types"
)

// ListComments returns a task's comment thread, oldest first
func (t *Tracker) ListComments(ctx context.Context, orgID, projectID, taskID string) ([]*types.Comment, error) {
	if _, err := t.store.GetTask(ctx, orgID, projectID, taskID); err != nil {
		return nil, err
	}
	return t.store.ListComments(ctx, orgID, projectID, taskID)
}

// CreateComment stores a comment, announces task:comment:created on the
// project room, logs the activity and notifies every other org member
func (t *Tracker) CreateComment(ctx context.Context, actor types.Identity, orgID, projectID, taskID, content string) (*types.Comment, error) {
	task, err := t.store.GetTask(ctx, orgID, projectID, taskID)
	if err != nil {
		return nil, err
	}

	now := t.now()
	comment := &types.Comment{
		ID:        t.newID(),
		OrgID:     orgID,
		ProjectID: projectID,
		TaskID:    taskID,
		AuthorID:  actor.UserID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := comment.Validate(); err != nil {
		return nil, err
	}

	err = t.emitter.Commit(ctx, func(ctx context.Context) error {
		return t.store.CreateComment(ctx, comment)
	}, func() []events.Event {
		return []events.Event{events.CommentCreated(comment)}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	t.recordActivity(ctx, &types.Activity{
		OrgID:     orgID,
		ProjectID: projectID,
		TaskID:    taskID,
		ActorID:   actor.UserID,
		Type:      types.ActivityCommentAdded,
		Meta:      map[string]string{"commentId": comment.ID},
	})

	members, err := t.store.ListMembers(ctx, orgID)
	if err != nil {
		t.logger.Warn("failed to list members for comment notifications", zap.String("org_id", orgID), zap.Error(err))
		return comment, nil
	}
	message := fmt.Sprintf("%s commented on \"%s\"", displayName(actor), task.Title)
	for _, member := range members {
		if member.UserID == actor.UserID {
			continue
		}
		t.notifyBestEffort(ctx, &types.Notification{
			UserID:  member.UserID,
			OrgID:   orgID,
			Type:    types.NotificationTypeComment,
			Message: message,
			Meta:    map[string]string{"taskId": taskID, "projectId": projectID},
		})
	}
	return comment, nil
}
