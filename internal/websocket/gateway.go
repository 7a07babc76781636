package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/hub"
	"taskflow/pkg/interfaces"
	"taskflow/pkg/types"
)

// GatewayConfig tunes per-connection transport behavior
type GatewayConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultGatewayConfig returns keepalive settings: ping every 30s, drop a
// connection silent for 60s
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

// Gateway admits realtime connections.
// ARCHITECTURAL DISCOVERY: the credential is checked before the HTTP upgrade,
// so a rejected client never owns a socket and can have no room side
// effects; control frames are only read from admitted connections
type Gateway struct {
	verifier    interfaces.TokenVerifier
	broadcaster *hub.Broadcaster
	config      GatewayConfig
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewGateway creates a gateway over the shared verifier and broadcaster
func NewGateway(verifier interfaces.TokenVerifier, broadcaster *hub.Broadcaster, config GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		verifier:    verifier,
		broadcaster: broadcaster,
		config:      config,
		upgrader: websocket.Upgrader{
			// Origin is not a credential here; the bearer token is
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: logger.Named("gateway"),
	}
}

// ServeHTTP runs the handshake: extract credential, verify, upgrade,
// attach identity, auto-join the personal room, then pump control frames
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		g.logger.Warn("handshake rejected", zap.String("remote", r.RemoteAddr), zap.String("reason", "missing credential"))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		// FUNCTIONAL DISCOVERY: the client sees the same reason for every
		// failure; the cause is only logged
		g.logger.Warn("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !g.broadcaster.IsRunning() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, identity, g.config.BufferSize, g.config.WriteTimeout, g.logger)

	if err := g.broadcaster.Subscribe(conn, types.UserRoom(identity.UserID)); err != nil {
		conn.logger.Warn("failed to join personal room", zap.Error(err))
		_ = conn.Close()
		return
	}

	conn.logger.Info("connection admitted")
	go g.handleConnection(conn)
}

// handleConnection owns the read side of the socket until it closes
func (g *Gateway) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: deferred cleanup purges every membership
		// even if the read pump exits unexpectedly
		g.broadcaster.RemoveConnection(conn)
		_ = conn.Close()
		conn.logger.Info("connection closed")
	}()

	ws := conn.conn
	if err := ws.SetReadDeadline(time.Now().Add(g.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(g.config.ReadTimeout))
	})

	go g.keepalive(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		g.handleControl(conn, data)
	}
}

// keepalive pings the client until the connection closes
func (g *Gateway) keepalive(conn *Connection) {
	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteControl is safe concurrently with the writer goroutine
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.config.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleControl applies one inbound control frame.
// Frames for unknown events, malformed JSON and non-string room keys are
// ignored. There is no acknowledgment.
func (g *Gateway) handleControl(conn *Connection, data []byte) {
	if conn.IsClosed() {
		return
	}
	if !gjson.ValidBytes(data) {
		conn.logger.Debug("ignoring malformed frame")
		return
	}

	event := gjson.GetBytes(data, "event").String()
	room := gjson.GetBytes(data, "data")
	if room.Type != gjson.String {
		conn.logger.Debug("ignoring frame without room key", zap.String("event", event))
		return
	}

	switch event {
	case types.ControlJoinRoom:
		// Room names act as capabilities: only the grammar is checked
		if err := g.broadcaster.Subscribe(conn, room.String()); err != nil {
			conn.logger.Debug("join rejected", zap.String("room", room.String()), zap.Error(err))
		}
	case types.ControlLeaveRoom:
		g.broadcaster.Unsubscribe(conn, room.String())
	default:
		conn.logger.Debug("ignoring unknown control event", zap.String("event", event))
	}
}
