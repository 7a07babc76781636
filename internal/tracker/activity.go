package tracker

import (
	"context"

	"go.uber.org/zap"

	"taskflow/internal/events"
	"taskflow/pkg/types"
)

// ListActivity returns the latest organization activity, newest first
func (t *Tracker) ListActivity(ctx context.Context, orgID string) ([]*types.Activity, error) {
	return t.store.ListActivity(ctx, orgID, ActivityListLimit)
}

// recordActivity writes an activity entry and announces it on the org room.
// The triggering mutation has already committed, so a failure here is
// logged rather than returned.
func (t *Tracker) recordActivity(ctx context.Context, activity *types.Activity) {
	activity.ID = t.newID()
	activity.CreatedAt = t.now()

	err := t.emitter.Commit(ctx, func(ctx context.Context) error {
		return t.store.CreateActivity(ctx, activity)
	}, func() []events.Event {
		return []events.Event{events.ActivityNew(activity)}
	})
	if err != nil {
		t.logger.Warn("failed to record activity", zapActivity(activity, err)...)
	}
}

func zapActivity(a *types.Activity, err error) []zap.Field {
	return []zap.Field{
		zap.String("org_id", a.OrgID),
		zap.String("type", a.Type),
		zap.String("actor_id", a.ActorID),
		zap.Error(err),
	}
}
