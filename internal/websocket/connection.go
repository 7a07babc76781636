package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskflow/pkg/types"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every
// frame goes through writeCh to a single writer goroutine
type Connection struct {
	id           string
	conn         *websocket.Conn
	identity     types.Identity // immutable after construction
	writeCh      chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded socket for an authenticated identity
func NewConnection(conn *websocket.Conn, identity types.Identity, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		conn:         conn,
		identity:     identity,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		logger:       logger.With(zap.String("conn_id", id), zap.String("user_id", identity.UserID)),
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the only goroutine that writes data frames to the socket
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, closing connection", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// GetID returns the server-assigned connection id
func (c *Connection) GetID() string {
	return c.id
}

// GetIdentity returns the identity attached at handshake time
func (c *Connection) GetIdentity() types.Identity {
	return c.identity
}

// IsAuthenticated reports whether an identity is attached
func (c *Connection) IsAuthenticated() bool {
	return c.identity.UserID != ""
}

// IsClosed reports whether the connection has been torn down
func (c *Connection) IsClosed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// WriteMessage queues an encoded frame without blocking. A client that
// cannot keep up loses frames rather than stalling the emitter.
func (c *Connection) WriteMessage(data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down; safe to call more than once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection is torn down
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
