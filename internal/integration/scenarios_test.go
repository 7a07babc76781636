package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"taskflow/pkg/client"
	"taskflow/pkg/types"
)

func TestNotificationReachesOnlyRecipient(t *testing.T) {
	s := newStack(t)
	u1 := s.dial("u1")
	u2 := s.dial("u2")
	waitFor(t, "user rooms", func() bool {
		return len(s.broadcaster.Members(types.UserRoom("u1"))) == 1 &&
			len(s.broadcaster.Members(types.UserRoom("u2"))) == 1
	})

	n := &types.Notification{UserID: "u1", OrgID: "o1", Type: types.NotificationTypeSystem, Message: "hello"}
	if err := s.tracker.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	frame := readFrame(t, u1)
	if frame.Event != types.EventNotificationNew {
		t.Fatalf("Expected %s, got %s", types.EventNotificationNew, frame.Event)
	}
	var got types.Notification
	if err := json.Unmarshal(frame.Data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.ID != n.ID || got.Message != "hello" || got.UserID != "u1" {
		t.Errorf("Unexpected notification: %+v", got)
	}
	expectSilence(t, u2)
}

func TestProjectRoomFanOut(t *testing.T) {
	s := newStack(t)
	orgID, projectID := s.seed()
	room := types.ProjectRoom(orgID, projectID)

	a := s.dial("u1")
	b := s.dial("u2")
	s.join(a, room, 1)
	s.join(b, room, 2)

	var task types.Task
	path := "/api/orgs/" + orgID + "/projects/" + projectID + "/tasks"
	if code := s.rest("u1", http.MethodPost, path, map[string]string{"title": "Ship it"}, &task); code != http.StatusCreated {
		t.Fatalf("create task: %d", code)
	}

	first := readFrame(t, a)
	second := readFrame(t, b)
	for _, frame := range []types.Frame{first, second} {
		if frame.Event != types.EventTaskCreated {
			t.Fatalf("Expected %s, got %s", types.EventTaskCreated, frame.Event)
		}
	}
	if string(first.Data) != string(second.Data) {
		t.Errorf("Room members received different payloads:\n%s\n%s", first.Data, second.Data)
	}

	var got types.Task
	if err := json.Unmarshal(first.Data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.ID != task.ID || got.Title != "Ship it" {
		t.Errorf("Unexpected task payload: %+v", got)
	}

	// exactly one frame each
	expectSilence(t, a)
	expectSilence(t, b)
}

func TestLeftRoomReceivesNothing(t *testing.T) {
	s := newStack(t)
	orgID, projectID := s.seed()
	room := types.ProjectRoom(orgID, projectID)

	stayed := s.dial("u1")
	left := s.dial("u2")
	s.join(stayed, room, 1)
	s.join(left, room, 2)

	control(t, left, types.ControlLeaveRoom, room)
	waitFor(t, "leave", func() bool { return len(s.broadcaster.Members(room)) == 1 })

	path := "/api/orgs/" + orgID + "/projects/" + projectID + "/tasks"
	if code := s.rest("u1", http.MethodPost, path, map[string]string{"title": "After leave"}, nil); code != http.StatusCreated {
		t.Fatalf("create task: %d", code)
	}

	if frame := readFrame(t, stayed); frame.Event != types.EventTaskCreated {
		t.Errorf("Expected %s, got %s", types.EventTaskCreated, frame.Event)
	}
	expectSilence(t, left)
}

func TestOptimisticUpdateRollsBackOnServerError(t *testing.T) {
	s := newStack(t)
	orgID, projectID := s.seed()

	var task types.Task
	path := "/api/orgs/" + orgID + "/projects/" + projectID + "/tasks"
	body := map[string]string{"title": "Fragile", "priority": types.TaskPriorityLow}
	if code := s.rest("u1", http.MethodPost, path, body, &task); code != http.StatusCreated {
		t.Fatalf("create task: %d", code)
	}

	token := s.token("u1")
	logger := zaptest.NewLogger(t)
	session := client.NewSession(client.DefaultSessionConfig(s.wsURL()), client.StaticCredential(token), logger)
	t.Cleanup(func() { _ = session.Close() })
	cache := client.NewCache(logger)
	board := client.NewTaskBoard(session, cache, client.NewAPIClient(s.server.URL, client.StaticCredential(token)), orgID, projectID, logger)

	if err := board.Mount(waitCtx(t)); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	defer board.Unmount()
	before, _ := cache.Get(board.Key())

	s.failMutations.Store(true)
	urgent := types.TaskPriorityUrgent
	err := board.UpdateTask(waitCtx(t), task.ID, types.TaskPatch{Priority: &urgent})

	var failed *client.MutationFailedError
	if !errors.As(err, &failed) || failed.Message != client.MsgUpdateTaskFailed {
		t.Fatalf("Expected %q, got %v", client.MsgUpdateTaskFailed, err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected the 500 to be wrapped, got %v", err)
	}

	after, _ := cache.Get(board.Key())
	if string(after) != string(before) {
		t.Errorf("Expected cache restored byte for byte:\n%s\n%s", after, before)
	}
	tasks, _, _ := board.Tasks()
	if len(tasks) != 1 || tasks[0].Priority != types.TaskPriorityLow {
		t.Errorf("Expected original priority, got %+v", tasks)
	}
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	s := newStack(t)

	cases := map[string]string{
		"missing": s.wsURL(),
		"garbage": s.wsURL() + "?token=not-a-jwt",
		"foreign": s.wsURL() + "?token=" + foreignToken(t),
	}
	for name, url := range cases {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("Expected 401, got %v", resp)
			}
		})
	}

	if stats := s.broadcaster.Stats(); stats.Connections != 0 || stats.Subscriptions != 0 {
		t.Errorf("Rejected clients must leave no state, got %+v", stats)
	}
}

func TestClientViewsStayInSync(t *testing.T) {
	s := newStack(t)
	orgID, projectID := s.seed()
	logger := zaptest.NewLogger(t)

	type user struct {
		session *client.Session
		cache   *client.Cache
		api     *client.APIClient
	}
	connect := func(userID string) user {
		token := s.token(userID)
		session := client.NewSession(client.DefaultSessionConfig(s.wsURL()), client.StaticCredential(token), logger.Named(userID))
		t.Cleanup(func() { _ = session.Close() })
		return user{session: session, cache: client.NewCache(logger), api: client.NewAPIClient(s.server.URL, client.StaticCredential(token))}
	}
	alice := connect("u1")
	bob := connect("u2")

	board := client.NewTaskBoard(bob.session, bob.cache, bob.api, orgID, projectID, logger)
	inbox := client.NewNotificationList(bob.session, bob.cache, bob.api, "u2", logger)
	feed := client.NewActivityFeed(bob.session, bob.cache, bob.api, orgID, logger)
	for _, v := range []interface{ Mount(context.Context) error }{board, inbox, feed} {
		if err := v.Mount(waitCtx(t)); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
	}
	if err := bob.session.WaitConnected(waitCtx(t)); err != nil {
		t.Fatalf("WaitConnected failed: %v", err)
	}
	waitFor(t, "bob's rooms", func() bool {
		return len(s.broadcaster.Members(types.ProjectRoom(orgID, projectID))) == 1 &&
			len(s.broadcaster.Members(types.OrgRoom(orgID))) == 1 &&
			len(s.broadcaster.Members(types.UserRoom("u2"))) == 1
	})

	assignee := "u2"
	aliceBoard := client.NewTaskBoard(alice.session, alice.cache, alice.api, orgID, projectID, logger)
	task, err := aliceBoard.CreateTask(waitCtx(t), client.NewTask{Title: "Review", AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	waitFor(t, "task on bob's board", func() bool {
		tasks, _, _ := board.Tasks()
		return len(tasks) == 1 && tasks[0].ID == task.ID
	})
	waitFor(t, "assignment notification", func() bool {
		notifications, _, _ := inbox.Notifications()
		return len(notifications) == 1 && notifications[0].Type == types.NotificationTypeTask
	})
	waitFor(t, "activity", func() bool {
		activities, _, _ := feed.Activities()
		return len(activities) >= 2
	})

	// a comment from alice makes bob's open thread refetch
	thread := client.NewCommentThread(bob.session, bob.cache, bob.api, orgID, projectID, task.ID, logger)
	if err := thread.Mount(waitCtx(t)); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if _, err := alice.api.CreateComment(waitCtx(t), orgID, projectID, task.ID, "looks good"); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	waitFor(t, "comment thread refetch", func() bool {
		comments, _, _ := thread.Comments()
		return len(comments) == 1 && comments[0].Content == "looks good"
	})

	done := types.TaskStatusDone
	if _, err := alice.api.UpdateTask(waitCtx(t), orgID, projectID, task.ID, types.TaskPatch{Status: &done}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	waitFor(t, "status update", func() bool {
		tasks, _, _ := board.Tasks()
		return len(tasks) == 1 && tasks[0].Status == types.TaskStatusDone
	})

	// the merged board matches a fresh fetch
	fresh, err := bob.api.ListTasks(waitCtx(t), orgID, projectID)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	want, _ := json.Marshal(fresh)
	if got, _ := bob.cache.Get(board.Key()); string(got) != string(want) {
		t.Errorf("Merged board diverged from server:\n%s\n%s", got, want)
	}

	if err := alice.api.DeleteTask(waitCtx(t), orgID, projectID, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	waitFor(t, "delete", func() bool {
		tasks, _, _ := board.Tasks()
		return len(tasks) == 0
	})
}
