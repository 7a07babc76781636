package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"taskflow/pkg/types"
)

// Handler receives the raw JSON data of one server event
type Handler func(data []byte)

// ListenerID identifies a registered handler for Off
type ListenerID uint64

// SessionConfig tunes the realtime session
type SessionConfig struct {
	// URL of the realtime gateway, e.g. ws://localhost:8080/ws
	URL          string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	InboxSize    int
}

// DefaultSessionConfig returns reconnect settings suitable for interactive clients
func DefaultSessionConfig(url string) SessionConfig {
	return SessionConfig{
		URL:          url,
		MinBackoff:   250 * time.Millisecond,
		MaxBackoff:   10 * time.Second,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		InboxSize:    256,
	}
}

type listener struct {
	id ListenerID
	fn Handler
}

// Session owns the single realtime connection of a client process. Views
// share it for room membership and event handlers.
// ARCHITECTURAL DISCOVERY: room joins are reference counted so views that
// share a room never leave it under each other; the transport is dialed
// lazily and redialed on drops, replaying every held room
type Session struct {
	config      SessionConfig
	credentials CredentialSource
	logger      *zap.Logger

	mu        sync.Mutex
	rooms     map[string]int
	listeners map[string][]listener
	nextID    ListenerID
	conn      *websocket.Conn
	ready     chan struct{}
	running   bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan []byte
	wg     sync.WaitGroup
}

// NewSession creates a session. No connection is attempted until a room is
// joined or Connect is called.
func NewSession(config SessionConfig, credentials CredentialSource, logger *zap.Logger) *Session {
	defaults := DefaultSessionConfig(config.URL)
	if config.MinBackoff <= 0 {
		config.MinBackoff = defaults.MinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.InboxSize <= 0 {
		config.InboxSize = defaults.InboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		config:      config,
		credentials: credentials,
		logger:      logger.Named("session"),
		rooms:       make(map[string]int),
		listeners:   make(map[string][]listener),
		ready:       make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		inbox:       make(chan []byte, config.InboxSize),
	}

	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

// Connect starts the connection if a credential is stored. It does not wait
// for the dial; use WaitConnected for that.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.ensureRunningLocked()
	return nil
}

// WaitConnected blocks until the transport is connected and every held room
// has been joined
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Connected reports whether the transport is currently up
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// JoinRoom takes a reference on room. The joinRoom control message is sent
// only when the first reference is taken.
func (s *Session) JoinRoom(room string) error {
	if !types.IsValidRoomKey(room) {
		return fmt.Errorf("%w: %q", types.ErrInvalidRoomKey, room)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.rooms[room]++
	if s.rooms[room] == 1 && s.conn != nil {
		s.sendLocked(types.ControlJoinRoom, room)
	}
	s.ensureRunningLocked()
	return nil
}

// LeaveRoom drops one reference on room, sending leaveRoom when the last
// reference goes. Leaving a room that is not held is a no-op.
func (s *Session) LeaveRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.rooms[room]
	switch {
	case n == 0:
		return
	case n == 1:
		delete(s.rooms, room)
		if s.conn != nil {
			s.sendLocked(types.ControlLeaveRoom, room)
		}
	default:
		s.rooms[room] = n - 1
	}
}

// Rooms returns the held rooms and their reference counts
func (s *Session) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.rooms))
	for room, n := range s.rooms {
		out[room] = n
	}
	return out
}

// On registers fn for event. Handlers run one at a time on the session's
// dispatch goroutine in arrival order.
func (s *Session) On(event string, fn Handler) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[event] = append(s.listeners[event], listener{id: id, fn: fn})
	return id
}

// Off unregisters a handler. Once Off returns the handler is not invoked for
// events dispatched afterwards.
func (s *Session) Off(event string, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.listeners[event]
	for i, l := range list {
		if l.id == id {
			s.listeners[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(s.listeners[event]) == 0 {
		delete(s.listeners, event)
	}
}

// OnEvent registers a handler that decodes the event data into T.
// Undecodable payloads are dropped.
func OnEvent[T any](s *Session, event string, fn func(T)) ListenerID {
	return s.On(event, func(data []byte) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			s.logger.Debug("dropping undecodable event", zap.String("event", event), zap.Error(err))
			return
		}
		fn(v)
	})
}

// Close tears down the connection and stops all session goroutines
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.CloseNow()
	}
	s.wg.Wait()
	return nil
}

func (s *Session) ensureRunningLocked() {
	if s.closed || s.running {
		return
	}
	if _, ok := s.credentials(); !ok {
		s.logger.Debug("no stored credential; not connecting")
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.connectLoop()
}

// connectLoop dials, serves and redials with bounded exponential backoff
// until the session closes or the credential disappears
func (s *Session) connectLoop() {
	defer s.wg.Done()
	backoff := s.config.MinBackoff

	for {
		token, ok := s.credentials()
		if !ok {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			s.logger.Info("credential removed; realtime connection stopped")
			return
		}

		conn, err := s.dial(token)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("realtime dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !s.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, s.config.MaxBackoff)
			continue
		}

		if err := s.attach(conn); err != nil {
			_ = conn.CloseNow()
			return
		}
		backoff = s.config.MinBackoff
		s.logger.Info("realtime connected")

		err = s.readLoop(conn)
		s.detach(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Info("realtime connection dropped", zap.Error(err), zap.Duration("retry_in", backoff))
		if !s.sleep(backoff) {
			return
		}
	}
}

func (s *Session) dial(token string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, s.config.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// attach publishes conn and replays every held room before anything else
// can write to it
func (s *Session) attach(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.conn = conn
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		s.sendLocked(types.ControlJoinRoom, room)
	}
	close(s.ready)
	return nil
}

func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.ready = make(chan struct{})
	}
	s.mu.Unlock()
	_ = conn.CloseNow()
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		select {
		case s.inbox <- data:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// sendLocked writes a control frame. A failed write is left to the read
// loop, which notices the drop and reconnects with the full room set.
func (s *Session) sendLocked(event, room string) {
	frame, err := json.Marshal(types.Envelope{Event: event, Data: room})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.config.WriteTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		s.logger.Warn("control message failed", zap.String("event", event), zap.String("room", room), zap.Error(err))
	}
}

func (s *Session) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.inbox:
			s.dispatch(msg)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(msg []byte) {
	if !gjson.ValidBytes(msg) {
		s.logger.Debug("dropping malformed frame")
		return
	}
	frame := gjson.ParseBytes(msg)
	event := frame.Get("event").String()
	if event == "" {
		return
	}
	data := []byte(frame.Get("data").Raw)

	s.mu.Lock()
	snapshot := append([]listener(nil), s.listeners[event]...)
	s.mu.Unlock()

	for _, l := range snapshot {
		if s.registered(event, l.id) {
			l.fn(data)
		}
	}
}

func (s *Session) registered(event string, id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners[event] {
		if l.id == id {
			return true
		}
	}
	return false
}

func (s *Session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// IsUnauthorized reports whether err is a rejected realtime handshake
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
