package tracker

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskflow/internal/events"
	"taskflow/pkg/interfaces"
)

// List limits for newest-first feeds
const (
	NotificationListLimit = 50
	ActivityListLimit     = 100
)

// Tracker implements the task tracker's domain operations.
// ARCHITECTURAL DISCOVERY: every mutation is a store write followed by an
// emitter continuation, so realtime delivery can never be observed before
// the state it describes is committed
type Tracker struct {
	store   interfaces.DocumentStore
	emitter *events.Emitter
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a tracker over the given store and emitter
func New(store interfaces.DocumentStore, emitter *events.Emitter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		emitter: emitter,
		logger:  logger.Named("tracker"),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:   uuid.NewString,
	}
}

// Store exposes the underlying document store for read-only callers
func (t *Tracker) Store() interfaces.DocumentStore {
	return t.store
}
