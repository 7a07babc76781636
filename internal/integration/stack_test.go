package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"taskflow/internal/api"
	"taskflow/internal/auth"
	"taskflow/internal/database"
	"taskflow/internal/events"
	"taskflow/internal/hub"
	"taskflow/internal/tracker"
	ws "taskflow/internal/websocket"
	dbconfig "taskflow/pkg/database"
	"taskflow/pkg/types"
)

// stack is a full server: store, verifier, broadcaster, tracker, REST API
// and gateway behind one httptest server
type stack struct {
	t           *testing.T
	server      *httptest.Server
	verifier    *auth.Verifier
	broadcaster *hub.Broadcaster
	tracker     *tracker.Tracker

	// failMutations makes every PATCH and DELETE fail with a 500
	failMutations atomic.Bool
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	config := dbconfig.DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "integration.db")
	store, err := database.NewManager(config, logger)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	verifier := auth.NewVerifier("integration-secret", "taskflow", time.Hour)
	broadcaster := hub.NewBroadcaster(logger)
	if err := broadcaster.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	svc := tracker.New(store, events.NewEmitter(broadcaster, logger), logger)

	apiServer := api.NewServer(svc, verifier, verifier, broadcaster, api.Config{EnableTokenEndpoint: true}, logger)
	gatewayConfig := ws.DefaultGatewayConfig()
	apiServer.Handle("/ws", ws.NewGateway(verifier, broadcaster, gatewayConfig, logger))

	s := &stack{t: t, verifier: verifier, broadcaster: broadcaster, tracker: svc}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.failMutations.Load() && (r.Method == http.MethodPatch || r.Method == http.MethodDelete) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Internal Server Error","code":500,"message":"Internal error"}`))
			return
		}
		apiServer.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		s.server.Close()
		_ = broadcaster.Stop()
		_ = store.Close()
	})
	return s
}

func (s *stack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func (s *stack) token(userID string) string {
	s.t.Helper()
	token, err := s.verifier.Issue(types.Identity{UserID: userID, Email: userID + "@example.com"})
	if err != nil {
		s.t.Fatalf("Issue failed: %v", err)
	}
	return token
}

// rest performs an authenticated JSON request and decodes the response into out
// foreignToken is well-formed but signed with another secret
func foreignToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewVerifier("other-secret", "taskflow", time.Hour).Issue(types.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func (s *stack) rest(userID, method, path string, body, out any) int {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		s.t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token(userID))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s failed: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// seed creates org with owner u1 and member u2, plus one project
func (s *stack) seed() (orgID, projectID string) {
	s.t.Helper()
	var org types.Organization
	if code := s.rest("u1", http.MethodPost, "/api/orgs", map[string]string{"name": "Acme"}, &org); code != http.StatusCreated {
		s.t.Fatalf("create org: %d", code)
	}
	if code := s.rest("u1", http.MethodPost, "/api/orgs/"+org.ID+"/members", map[string]string{"userId": "u2", "email": "u2@example.com", "role": types.OrgRoleMember}, nil); code != http.StatusCreated {
		s.t.Fatalf("add member: %d", code)
	}
	var project types.Project
	if code := s.rest("u1", http.MethodPost, "/api/orgs/"+org.ID+"/projects", map[string]string{"name": "Board"}, &project); code != http.StatusCreated {
		s.t.Fatalf("create project: %d", code)
	}
	return org.ID, project.ID
}

func (s *stack) dial(userID string) *websocket.Conn {
	s.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL()+"?token="+s.token(userID), nil)
	if err != nil {
		s.t.Fatalf("Dial failed: %v", err)
	}
	s.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *stack) join(conn *websocket.Conn, room string, members int) {
	s.t.Helper()
	control(s.t, conn, types.ControlJoinRoom, room)
	waitFor(s.t, "join "+room, func() bool { return len(s.broadcaster.Members(room)) == members })
}

func control(t *testing.T, conn *websocket.Conn, event, room string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"event": event, "data": room}); err != nil {
		t.Fatalf("send %s failed: %v", event, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func readFrame(t *testing.T, conn *websocket.Conn) types.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame types.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame types.Frame
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatalf("Expected no frame, got %s %s", frame.Event, string(frame.Data))
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
