package interfaces

import "taskflow/pkg/types"

// TokenVerifier turns an opaque bearer credential into an identity claim.
// The REST middleware and the realtime handshake share one implementation.
type TokenVerifier interface {
	Verify(token string) (types.Identity, error)
}
