package tracker

import (
	"context"

	"go.uber.org/zap"

	"taskflow/internal/events"
	"taskflow/pkg/types"
)

// Notify stores a notification and pushes it to the recipient's personal room
func (t *Tracker) Notify(ctx context.Context, n *types.Notification) error {
	now := t.now()
	n.ID = t.newID()
	n.Read = false
	n.CreatedAt = now
	n.UpdatedAt = now

	return t.emitter.Commit(ctx, func(ctx context.Context) error {
		return t.store.CreateNotification(ctx, n)
	}, func() []events.Event {
		return []events.Event{events.NotificationNew(n)}
	})
}

// ListNotifications returns the caller's latest notifications, newest first
func (t *Tracker) ListNotifications(ctx context.Context, userID string) ([]*types.Notification, error) {
	return t.store.ListNotifications(ctx, userID, NotificationListLimit)
}

// MarkNotificationRead marks one of the caller's notifications as read
func (t *Tracker) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return t.store.MarkNotificationRead(ctx, userID, notificationID)
}

// notifyBestEffort delivers a follow-up notification for a mutation that has
// already committed
func (t *Tracker) notifyBestEffort(ctx context.Context, n *types.Notification) {
	if err := t.Notify(ctx, n); err != nil {
		t.logger.Warn("failed to create notification",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

func displayName(actor types.Identity) string {
	if actor.Email != "" {
		return actor.Email
	}
	return actor.UserID
}
