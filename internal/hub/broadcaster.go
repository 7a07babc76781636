package hub

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"taskflow/pkg/interfaces"
	"taskflow/pkg/types"
)

// Broadcaster is the room registry: room key -> member connections.
// ARCHITECTURAL DISCOVERY: an explicitly owned service object rather than a
// package global; the application creates one and hands it to the gateway
// and the emitters
//
// TECHNICAL DISCOVERY: connection handlers run on their own goroutines, so
// every registry mutation happens under mu. Emit snapshots membership under
// the read lock and writes outside it, so one slow client never blocks
// subscribe/unsubscribe for everyone else.
type Broadcaster struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]interfaces.Connection // room -> connID -> conn
	connRooms map[string]map[string]struct{}              // connID -> rooms
	running   bool
	logger    *zap.Logger
}

// Stats is a point-in-time view of the registry
type Stats struct {
	Rooms         int  `json:"rooms"`
	Connections   int  `json:"connections"`
	Subscriptions int  `json:"subscriptions"`
	Running       bool `json:"running"`
}

// NewBroadcaster creates a stopped broadcaster
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		rooms:     make(map[string]map[string]interfaces.Connection),
		connRooms: make(map[string]map[string]struct{}),
		logger:    logger.Named("broadcaster"),
	}
}

// Start marks the broadcaster ready for subscriptions and emits
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrBroadcasterRunning
	}
	b.running = true
	b.logger.Info("broadcaster started")
	return nil
}

// Stop rejects further emits, clears the registry and closes every member
// connection
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBroadcasterStopped
	}
	b.running = false

	conns := make([]interfaces.Connection, 0, len(b.connRooms))
	seen := make(map[string]bool)
	for _, members := range b.rooms {
		for id, conn := range members {
			if !seen[id] {
				seen[id] = true
				conns = append(conns, conn)
			}
		}
	}
	b.rooms = make(map[string]map[string]interfaces.Connection)
	b.connRooms = make(map[string]map[string]struct{})
	b.updateGauges()
	b.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	b.logger.Info("broadcaster stopped", zap.Int("closed_connections", len(conns)))
	return nil
}

// IsRunning reports whether the broadcaster accepts emits
func (b *Broadcaster) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Subscribe adds the connection to the room. Joining twice is a no-op.
func (b *Broadcaster) Subscribe(conn interfaces.Connection, room string) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}
	if _, err := types.ParseRoom(room); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return ErrBroadcasterStopped
	}

	id := conn.GetID()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]interfaces.Connection)
		b.rooms[room] = members
	}
	if _, joined := members[id]; joined {
		return nil
	}
	members[id] = conn

	if b.connRooms[id] == nil {
		b.connRooms[id] = make(map[string]struct{})
	}
	b.connRooms[id][room] = struct{}{}
	b.updateGauges()

	b.logger.Debug("joined room", zap.String("conn_id", id), zap.String("room", room))
	return nil
}

// Unsubscribe removes the connection from the room. Leaving a room the
// connection is not in is a no-op.
func (b *Broadcaster) Unsubscribe(conn interfaces.Connection, room string) {
	if conn == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := conn.GetID()
	if !b.removeLocked(id, room) {
		return
	}
	b.updateGauges()
	b.logger.Debug("left room", zap.String("conn_id", id), zap.String("room", room))
}

// RemoveConnection purges the connection from every room it joined
func (b *Broadcaster) RemoveConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := conn.GetID()
	rooms := b.connRooms[id]
	for room := range rooms {
		b.removeLocked(id, room)
	}
	delete(b.connRooms, id)
	b.updateGauges()

	if len(rooms) > 0 {
		b.logger.Debug("connection removed", zap.String("conn_id", id), zap.Int("rooms", len(rooms)))
	}
}

// removeLocked drops one membership and deletes rooms and reverse entries
// that become empty. Caller must hold mu.
func (b *Broadcaster) removeLocked(id, room string) bool {
	members, ok := b.rooms[room]
	if !ok {
		return false
	}
	if _, joined := members[id]; !joined {
		return false
	}

	delete(members, id)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
	if rooms := b.connRooms[id]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(b.connRooms, id)
		}
	}
	return true
}

// Emit delivers the envelope to every connection in the room at the time of
// the call. An empty room is a silent no-op. A failed write to one member is
// logged and does not affect delivery to the others.
func (b *Broadcaster) Emit(room string, envelope types.Envelope) error {
	if err := envelope.Validate(); err != nil {
		return err
	}
	if _, err := types.ParseRoom(room); err != nil {
		return err
	}

	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return ErrBroadcasterStopped
	}
	members := make([]interfaces.Connection, 0, len(b.rooms[room]))
	for _, conn := range b.rooms[room] {
		members = append(members, conn)
	}
	b.mu.RUnlock()

	emitsTotal.WithLabelValues(envelope.Event).Inc()
	if len(members) == 0 {
		return nil
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", envelope.Event, err)
	}

	for _, conn := range members {
		if err := conn.WriteMessage(data); err != nil {
			deliveryFailuresTotal.Inc()
			b.logger.Warn("delivery failed",
				zap.String("conn_id", conn.GetID()),
				zap.String("room", room),
				zap.String("event", envelope.Event),
				zap.Error(err))
			continue
		}
		deliveriesTotal.Inc()
	}

	b.logger.Debug("emitted",
		zap.String("room", room),
		zap.String("event", envelope.Event),
		zap.Int("members", len(members)))
	return nil
}

// Members returns the connection ids currently in the room, sorted
func (b *Broadcaster) Members(room string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.rooms[room]))
	for id := range b.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the rooms the connection has joined, sorted
func (b *Broadcaster) RoomsOf(conn interfaces.Connection) []string {
	if conn == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	rooms := make([]string, 0, len(b.connRooms[conn.GetID()]))
	for room := range b.connRooms[conn.GetID()] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Stats returns registry counts
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := 0
	for _, rooms := range b.connRooms {
		subs += len(rooms)
	}
	return Stats{
		Rooms:         len(b.rooms),
		Connections:   len(b.connRooms),
		Subscriptions: subs,
		Running:       b.running,
	}
}

// updateGauges refreshes registry gauges. Caller must hold mu.
func (b *Broadcaster) updateGauges() {
	subs := 0
	for _, rooms := range b.connRooms {
		subs += len(rooms)
	}
	roomsGauge.Set(float64(len(b.rooms)))
	subscriptionsGauge.Set(float64(subs))
}
