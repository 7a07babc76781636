package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"taskflow/pkg/types"
)

// Feed sizes kept by direct merge, matching the REST list limits
const (
	NotificationLimit = 50
	ActivityLimit     = 100
)

// Cache keys per view
func TaskBoardKey(orgID, projectID string) string { return "tasks:" + orgID + ":" + projectID }
func CommentThreadKey(orgID, projectID, taskID string) string {
	return "comments:" + orgID + ":" + projectID + ":" + taskID
}
func NotificationsKey(userID string) string { return "notifications:" + userID }
func ActivityKey(orgID string) string       { return "activity:" + orgID }

type subscription struct {
	event string
	fn    Handler
}

type registration struct {
	event string
	id    ListenerID
}

// view is the mount/unmount core shared by every realtime view.
// FUNCTIONAL DISCOVERY: Mount and Unmount are idempotent and paired, so a
// view never leaves a room it did not join even under rapid remounting
type view struct {
	session *Session
	cache   *Cache
	logger  *zap.Logger
	key     string
	rooms   []string
	subs    []subscription
	fetch   FetchFunc

	mu         sync.Mutex
	mounted    bool
	joined     []string
	registered []registration
	unregister func()
}

// Mount joins the view's rooms, registers its handlers and loads its data
func (v *view) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return nil
	}

	for _, room := range v.rooms {
		if err := v.session.JoinRoom(room); err != nil {
			v.releaseLocked()
			v.mu.Unlock()
			return fmt.Errorf("failed to join %s: %w", room, err)
		}
		v.joined = append(v.joined, room)
	}
	for _, sub := range v.subs {
		v.registered = append(v.registered, registration{event: sub.event, id: v.session.On(sub.event, sub.fn)})
	}
	v.unregister = v.cache.Register(v.key, v.fetch)
	v.mounted = true
	v.mu.Unlock()

	return v.cache.Fetch(ctx, v.key, v.fetch)
}

// Unmount synchronously removes the view's handlers and leaves its rooms.
// Cached data stays under the view's key for in-flight mutations and remounts.
func (v *view) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return
	}
	v.mounted = false
	v.releaseLocked()
}

// Mounted reports whether the view is mounted
func (v *view) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// Key is the view's cache key
func (v *view) Key() string {
	return v.key
}

func (v *view) releaseLocked() {
	for _, r := range v.registered {
		v.session.Off(r.event, r.id)
	}
	v.registered = nil
	for _, room := range v.joined {
		v.session.LeaveRoom(room)
	}
	v.joined = nil
	if v.unregister != nil {
		v.unregister()
		v.unregister = nil
	}
}

// merge applies a direct-merge transform to the view's key
func (v *view) merge(event string, fn func(current []byte) ([]byte, error)) {
	if err := v.cache.Update(v.key, fn); err != nil {
		v.logger.Warn("failed to merge event", zap.String("event", event), zap.String("key", v.key), zap.Error(err))
	}
}

// TaskBoard shows a project's tasks. task:created, task:updated and
// task:deleted are merged directly from their payloads.
type TaskBoard struct {
	view
	api       *APIClient
	orgID     string
	projectID string
}

// NewTaskBoard creates an unmounted task board
func NewTaskBoard(session *Session, cache *Cache, api *APIClient, orgID, projectID string, logger *zap.Logger) *TaskBoard {
	b := &TaskBoard{api: api, orgID: orgID, projectID: projectID}
	b.view = view{
		session: session,
		cache:   cache,
		logger:  namedLogger(logger, "task_board"),
		key:     TaskBoardKey(orgID, projectID),
		rooms:   []string{types.ProjectRoom(orgID, projectID)},
		fetch: func(ctx context.Context) (any, error) {
			return api.ListTasks(ctx, orgID, projectID)
		},
	}
	b.subs = []subscription{
		{types.EventTaskCreated, b.onCreated},
		{types.EventTaskUpdated, b.onUpdated},
		{types.EventTaskDeleted, b.onDeleted},
	}
	return b
}

func (b *TaskBoard) ours(data []byte) bool {
	return gjson.GetBytes(data, "projectId").String() == b.projectID &&
		gjson.GetBytes(data, "orgId").String() == b.orgID
}

func (b *TaskBoard) onCreated(data []byte) {
	if !b.ours(data) {
		return
	}
	b.merge(types.EventTaskCreated, func(list []byte) ([]byte, error) {
		return upsertByID(list, data)
	})
}

func (b *TaskBoard) onUpdated(data []byte) {
	if !b.ours(data) {
		return
	}
	b.merge(types.EventTaskUpdated, func(list []byte) ([]byte, error) {
		return replaceByID(list, data)
	})
}

func (b *TaskBoard) onDeleted(data []byte) {
	taskID := gjson.GetBytes(data, "taskId").String()
	if taskID == "" {
		return
	}
	b.merge(types.EventTaskDeleted, func(list []byte) ([]byte, error) {
		return removeByID(list, taskID)
	})
}

// Tasks returns the cached tasks; ok is false until the first fetch lands
func (b *TaskBoard) Tasks() (tasks []types.Task, ok bool, err error) {
	ok, err = b.cache.Decode(b.key, &tasks)
	return tasks, ok, err
}

// CreateTask creates a task and merges the response; the matching
// task:created event converges to the same state
func (b *TaskBoard) CreateTask(ctx context.Context, input NewTask) (*types.Task, error) {
	task, err := b.api.CreateTask(ctx, b.orgID, b.projectID, input)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	b.merge(types.EventTaskCreated, func(list []byte) ([]byte, error) {
		return upsertByID(list, data)
	})
	return task, nil
}

// UpdateTask applies patch optimistically and rolls back if the request fails
func (b *TaskBoard) UpdateTask(ctx context.Context, taskID string, patch types.TaskPatch) error {
	optimistic := func(list []byte) ([]byte, error) {
		var tasks []types.Task
		if err := json.Unmarshal(list, &tasks); err != nil {
			return nil, err
		}
		for i := range tasks {
			if tasks[i].ID == taskID {
				patch.Apply(&tasks[i])
			}
		}
		return json.Marshal(tasks)
	}
	return Mutate(ctx, b.cache, b.key, optimistic, func(ctx context.Context) error {
		_, err := b.api.UpdateTask(ctx, b.orgID, b.projectID, taskID, patch)
		return err
	}, MsgUpdateTaskFailed)
}

// DeleteTask removes the task optimistically and rolls back if the request fails
func (b *TaskBoard) DeleteTask(ctx context.Context, taskID string) error {
	optimistic := func(list []byte) ([]byte, error) {
		return removeByID(list, taskID)
	}
	return Mutate(ctx, b.cache, b.key, optimistic, func(ctx context.Context) error {
		return b.api.DeleteTask(ctx, b.orgID, b.projectID, taskID)
	}, MsgDeleteTaskFailed)
}

// CommentThread shows one task's comments. task:comment:created invalidates
// the thread and refetches it.
type CommentThread struct {
	view
	api       *APIClient
	orgID     string
	projectID string
	taskID    string
}

// NewCommentThread creates an unmounted comment thread
func NewCommentThread(session *Session, cache *Cache, api *APIClient, orgID, projectID, taskID string, logger *zap.Logger) *CommentThread {
	t := &CommentThread{api: api, orgID: orgID, projectID: projectID, taskID: taskID}
	t.view = view{
		session: session,
		cache:   cache,
		logger:  namedLogger(logger, "comment_thread"),
		key:     CommentThreadKey(orgID, projectID, taskID),
		rooms:   []string{types.ProjectRoom(orgID, projectID)},
		fetch: func(ctx context.Context) (any, error) {
			return api.ListComments(ctx, orgID, projectID, taskID)
		},
	}
	t.subs = []subscription{{types.EventCommentCreated, t.onCommentCreated}}
	return t
}

func (t *CommentThread) onCommentCreated(data []byte) {
	if gjson.GetBytes(data, "taskId").String() != t.taskID {
		return
	}
	t.cache.Invalidate(t.key)
}

// Comments returns the cached comments, oldest first
func (t *CommentThread) Comments() (comments []types.Comment, ok bool, err error) {
	ok, err = t.cache.Decode(t.key, &comments)
	return comments, ok, err
}

// AddComment posts a comment; the thread refreshes from the resulting event
func (t *CommentThread) AddComment(ctx context.Context, content string) (*types.Comment, error) {
	return t.api.CreateComment(ctx, t.orgID, t.projectID, t.taskID, content)
}

// NotificationList shows the caller's notifications. notification:new is
// merged directly (newest first, deduplicated, capped).
//
// It joins no room: the gateway subscribes every connection to its user
// room at handshake, and leaving that room would silence notifications for
// the whole session.
type NotificationList struct {
	view
	api    *APIClient
	userID string
}

// NewNotificationList creates an unmounted notification list for userID
func NewNotificationList(session *Session, cache *Cache, api *APIClient, userID string, logger *zap.Logger) *NotificationList {
	n := &NotificationList{api: api, userID: userID}
	n.view = view{
		session: session,
		cache:   cache,
		logger:  namedLogger(logger, "notification_list"),
		key:     NotificationsKey(userID),
		fetch: func(ctx context.Context) (any, error) {
			return api.ListNotifications(ctx)
		},
	}
	n.subs = []subscription{{types.EventNotificationNew, n.onNotification}}
	return n
}

func (n *NotificationList) onNotification(data []byte) {
	if gjson.GetBytes(data, "userId").String() != n.userID {
		return
	}
	n.merge(types.EventNotificationNew, func(list []byte) ([]byte, error) {
		return prependUnique(list, data, NotificationLimit)
	})
}

// Notifications returns the cached notifications, newest first
func (n *NotificationList) Notifications() (notifications []types.Notification, ok bool, err error) {
	ok, err = n.cache.Decode(n.key, &notifications)
	return notifications, ok, err
}

// MarkRead flags a notification read optimistically
func (n *NotificationList) MarkRead(ctx context.Context, notificationID string) error {
	optimistic := func(list []byte) ([]byte, error) {
		var notifications []types.Notification
		if err := json.Unmarshal(list, &notifications); err != nil {
			return nil, err
		}
		for i := range notifications {
			if notifications[i].ID == notificationID {
				notifications[i].Read = true
			}
		}
		return json.Marshal(notifications)
	}
	return Mutate(ctx, n.cache, n.key, optimistic, func(ctx context.Context) error {
		return n.api.MarkNotificationRead(ctx, notificationID)
	}, MsgMarkNotificationFailed)
}

// ActivityFeed shows an organization's activity log. activity:new is merged
// directly (newest first, deduplicated, capped).
type ActivityFeed struct {
	view
	orgID string
}

// NewActivityFeed creates an unmounted activity feed
func NewActivityFeed(session *Session, cache *Cache, api *APIClient, orgID string, logger *zap.Logger) *ActivityFeed {
	f := &ActivityFeed{orgID: orgID}
	f.view = view{
		session: session,
		cache:   cache,
		logger:  namedLogger(logger, "activity_feed"),
		key:     ActivityKey(orgID),
		rooms:   []string{types.OrgRoom(orgID)},
		fetch: func(ctx context.Context) (any, error) {
			return api.ListActivity(ctx, orgID)
		},
	}
	f.subs = []subscription{{types.EventActivityNew, f.onActivity}}
	return f
}

func (f *ActivityFeed) onActivity(data []byte) {
	if gjson.GetBytes(data, "orgId").String() != f.orgID {
		return
	}
	f.merge(types.EventActivityNew, func(list []byte) ([]byte, error) {
		return prependUnique(list, data, ActivityLimit)
	})
}

// Activities returns the cached activity, newest first
func (f *ActivityFeed) Activities() (activities []types.Activity, ok bool, err error) {
	ok, err = f.cache.Decode(f.key, &activities)
	return activities, ok, err
}

func namedLogger(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}
