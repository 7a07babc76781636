package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"taskflow/pkg/types"
)

// fakeAPI serves fixed REST responses and can fail mutations
type fakeAPI struct {
	mu            sync.Mutex
	tasks         []types.Task
	comments      []types.Comment
	notifications []types.Notification
	activity      []types.Activity
	failPatch     bool
	commentCalls  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	write := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodPatch && f.failPatch:
		w.WriteHeader(http.StatusInternalServerError)
		write(map[string]any{"error": "Internal Server Error", "code": 500, "message": "Internal error"})
	case r.Method == http.MethodPatch:
		write(f.tasks[0])
	case r.Method == http.MethodGet && r.URL.Path == "/api/orgs/o1/projects/p1/tasks":
		write(f.tasks)
	case r.Method == http.MethodGet && r.URL.Path == "/api/orgs/o1/projects/p1/tasks/t1/comments":
		f.commentCalls++
		write(f.comments)
	case r.Method == http.MethodGet && r.URL.Path == "/api/notifications":
		write(f.notifications)
	case r.Method == http.MethodGet && r.URL.Path == "/api/orgs/o1/activity":
		write(f.activity)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type viewFixture struct {
	api     *fakeAPI
	session *Session
	cache   *Cache
	client  *APIClient
}

func newViewFixture(t *testing.T) *viewFixture {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		tasks: []types.Task{{
			ID: "t1", OrgID: "o1", ProjectID: "p1", Title: "First",
			Status: types.TaskStatusBacklog, Priority: types.TaskPriorityLow,
			CreatedBy: "u1", CreatedAt: now, UpdatedAt: now,
		}},
	}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	// no credential: events are injected directly through dispatch
	session := newTestSession(t, "ws://127.0.0.1:1/ws", StaticCredential(""))
	return &viewFixture{
		api:     api,
		session: session,
		cache:   NewCache(zaptest.NewLogger(t)),
		client:  NewAPIClient(server.URL, StaticCredential("tok")),
	}
}

func (f *viewFixture) emit(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(types.Envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	f.session.dispatch(raw)
}

func (f *viewFixture) listenerCount() int {
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	n := 0
	for _, l := range f.session.listeners {
		n += len(l)
	}
	return n
}

func TestTaskBoard_DirectMerge(t *testing.T) {
	f := newViewFixture(t)
	board := NewTaskBoard(f.session, f.cache, f.client, "o1", "p1", zaptest.NewLogger(t))
	if err := board.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer board.Unmount()

	before, _ := f.cache.Get(board.Key())

	created := f.api.tasks[0]
	created.ID = "t2"
	created.Title = "Second"
	f.emit(t, types.EventTaskCreated, &created)
	f.emit(t, types.EventTaskCreated, &created)

	tasks, ok, err := board.Tasks()
	if err != nil || !ok {
		t.Fatalf("Tasks failed: ok=%v err=%v", ok, err)
	}
	if len(tasks) != 2 || tasks[0].ID != "t2" {
		t.Fatalf("Expected t2 prepended once, got %+v", tasks)
	}

	updated := f.api.tasks[0]
	updated.Priority = types.TaskPriorityHigh
	f.emit(t, types.EventTaskUpdated, &updated)
	once, _ := f.cache.Get(board.Key())
	f.emit(t, types.EventTaskUpdated, &updated)
	twice, _ := f.cache.Get(board.Key())
	if string(once) != string(twice) {
		t.Error("Duplicate update must converge to the same bytes")
	}

	f.emit(t, types.EventTaskDeleted, types.TaskDeletedPayload{TaskID: "t2"})
	// an update after the delete is a no-op
	f.emit(t, types.EventTaskUpdated, &created)

	// tasks from other projects are ignored
	foreign := created
	foreign.ID = "t9"
	foreign.ProjectID = "p2"
	f.emit(t, types.EventTaskCreated, &foreign)

	tasks, _, _ = board.Tasks()
	if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Priority != types.TaskPriorityHigh {
		t.Fatalf("Unexpected tasks: %+v", tasks)
	}

	// merged task bytes match the fetch-response encoding
	f.emit(t, types.EventTaskUpdated, &f.api.tasks[0])
	after, _ := f.cache.Get(board.Key())
	if string(after) != string(before) {
		t.Errorf("Direct merge diverged from fetch encoding:\n%s\n%s", after, before)
	}
}

func TestTaskBoard_CreatedDuringFirstFetchIsKept(t *testing.T) {
	f := newViewFixture(t)
	board := NewTaskBoard(f.session, f.cache, f.client, "o1", "p1", nil)

	created := f.api.tasks[0]
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	calls := 0

	go func() {
		done <- f.cache.Fetch(context.Background(), board.Key(), func(context.Context) (any, error) {
			calls++
			if calls == 1 {
				// read before the create committed
				close(entered)
				<-release
				return []types.Task{}, nil
			}
			return []types.Task{created}, nil
		})
	}()

	<-entered
	data, err := json.Marshal(&created)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	board.onCreated(data)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	tasks, ok, err := board.Tasks()
	if err != nil || !ok {
		t.Fatalf("Tasks failed: ok=%v err=%v", ok, err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("Expected %s on the board, got %+v", created.ID, tasks)
	}
}

func TestTaskBoard_OptimisticUpdateRollsBack(t *testing.T) {
	f := newViewFixture(t)
	f.api.failPatch = true
	board := NewTaskBoard(f.session, f.cache, f.client, "o1", "p1", nil)
	if err := board.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer board.Unmount()

	before, _ := f.cache.Get(board.Key())

	urgent := types.TaskPriorityUrgent
	err := board.UpdateTask(context.Background(), "t1", types.TaskPatch{Priority: &urgent})

	var failed *MutationFailedError
	if !errors.As(err, &failed) || failed.Message != MsgUpdateTaskFailed {
		t.Fatalf("Expected %q, got %v", MsgUpdateTaskFailed, err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected wrapped 500 APIError, got %v", err)
	}

	after, _ := f.cache.Get(board.Key())
	if string(after) != string(before) {
		t.Errorf("Expected byte-identical rollback:\n%s\n%s", after, before)
	}
}

func TestView_MountUnmountSymmetry(t *testing.T) {
	f := newViewFixture(t)
	board := NewTaskBoard(f.session, f.cache, f.client, "o1", "p1", nil)
	thread := NewCommentThread(f.session, f.cache, f.client, "o1", "p1", "t1", nil)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = board.Mount(ctx)
		_ = board.Mount(ctx)
		_ = thread.Mount(ctx)
		if got := f.session.Rooms()["org:o1:project:p1"]; got != 2 {
			t.Fatalf("Expected two references while both views are mounted, got %d", got)
		}
		board.Unmount()
		board.Unmount()
		thread.Unmount()
	}

	if len(f.session.Rooms()) != 0 {
		t.Errorf("Expected all rooms released, got %v", f.session.Rooms())
	}
	if n := f.listenerCount(); n != 0 {
		t.Errorf("Expected all handlers removed, got %d", n)
	}
	if board.Mounted() || thread.Mounted() {
		t.Error("Views should be unmounted")
	}

	// events after unmount leave the cache alone
	before, _ := f.cache.Get(board.Key())
	created := f.api.tasks[0]
	created.ID = "t5"
	f.emit(t, types.EventTaskCreated, &created)
	after, _ := f.cache.Get(board.Key())
	if string(before) != string(after) {
		t.Error("Unmounted view must not merge events")
	}
}

func TestCommentThread_InvalidatesOnComment(t *testing.T) {
	f := newViewFixture(t)
	thread := NewCommentThread(f.session, f.cache, f.client, "o1", "p1", "t1", nil)
	if err := thread.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer thread.Unmount()

	refetched := make(chan []byte, 4)
	stop := f.cache.Watch(thread.Key(), func(data []byte) {
		if data != nil {
			refetched <- data
		}
	})
	defer stop()

	f.api.mu.Lock()
	f.api.comments = []types.Comment{{ID: "c1", OrgID: "o1", ProjectID: "p1", TaskID: "t1", AuthorID: "u2", Content: "hi"}}
	f.api.mu.Unlock()

	// a comment on another task is ignored
	f.emit(t, types.EventCommentCreated, &types.Comment{ID: "c9", TaskID: "t2", ProjectID: "p1"})
	f.emit(t, types.EventCommentCreated, &types.Comment{ID: "c1", TaskID: "t1", ProjectID: "p1"})

	select {
	case <-refetched:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected refetch after comment event")
	}

	comments, ok, err := thread.Comments()
	if err != nil || !ok || len(comments) != 1 || comments[0].Content != "hi" {
		t.Fatalf("Unexpected comments: %+v ok=%v err=%v", comments, ok, err)
	}
	f.api.mu.Lock()
	calls := f.api.commentCalls
	f.api.mu.Unlock()
	if calls != 2 {
		t.Errorf("Expected mount fetch plus one refetch, got %d", calls)
	}
}

func TestNotificationList_PrependsAndCaps(t *testing.T) {
	f := newViewFixture(t)
	list := NewNotificationList(f.session, f.cache, f.client, "u1", nil)
	if err := list.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer list.Unmount()

	if len(f.session.Rooms()) != 0 {
		t.Errorf("Notification list must not take user room references, got %v", f.session.Rooms())
	}

	for i := 0; i < NotificationLimit+5; i++ {
		n := &types.Notification{ID: string(rune('A'+i%26)) + string(rune('a'+i/26)), UserID: "u1", Type: types.NotificationTypeTask}
		f.emit(t, types.EventNotificationNew, n)
		f.emit(t, types.EventNotificationNew, n)
	}
	f.emit(t, types.EventNotificationNew, &types.Notification{ID: "other", UserID: "u2"})

	notifications, _, _ := list.Notifications()
	if len(notifications) != NotificationLimit {
		t.Fatalf("Expected %d notifications, got %d", NotificationLimit, len(notifications))
	}
	for _, n := range notifications {
		if n.UserID != "u1" {
			t.Fatalf("Foreign notification merged: %+v", n)
		}
	}
}

func TestActivityFeed_JoinsOrgRoom(t *testing.T) {
	f := newViewFixture(t)
	feed := NewActivityFeed(f.session, f.cache, f.client, "o1", nil)
	if err := feed.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	if f.session.Rooms()["org:o1"] != 1 {
		t.Errorf("Expected org room held, got %v", f.session.Rooms())
	}

	f.emit(t, types.EventActivityNew, &types.Activity{ID: "a1", OrgID: "o1", Type: types.ActivityTaskCreated})
	f.emit(t, types.EventActivityNew, &types.Activity{ID: "a2", OrgID: "o2", Type: types.ActivityTaskCreated})

	activities, _, _ := feed.Activities()
	if len(activities) != 1 || activities[0].ID != "a1" {
		t.Fatalf("Unexpected activity: %+v", activities)
	}

	feed.Unmount()
	if len(f.session.Rooms()) != 0 {
		t.Errorf("Expected org room released, got %v", f.session.Rooms())
	}
}
