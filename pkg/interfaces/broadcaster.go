package interfaces

import "taskflow/pkg/types"

// Broadcaster delivers envelopes to the members of a room.
// Emitting to a room with no members is a no-op, not an error.
type Broadcaster interface {
	Emit(room string, envelope types.Envelope) error
}
