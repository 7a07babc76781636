package interfaces

import "taskflow/pkg/types"

// Connection represents one realtime client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and the broadcaster
type Connection interface {
	// GetID returns the server-assigned opaque connection identifier
	GetID() string

	// WriteMessage sends an already encoded text frame (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// so every implementation serializes its writes
	WriteMessage(data []byte) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetIdentity returns the identity claim attached at handshake time
	GetIdentity() types.Identity

	// IsAuthenticated returns true once the handshake has attached an identity
	IsAuthenticated() bool

	// IsClosed returns true after the transport has been torn down
	IsClosed() bool
}
