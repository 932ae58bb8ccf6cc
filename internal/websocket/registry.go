package websocket

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"resource-chat/internal/models"
	"resource-chat/pkg/keylock"

	"github.com/rs/zerolog"
)

var (
	ErrNotAttached     = errors.New("connection not attached")
	ErrAlreadyAttached = errors.New("connection already attached")
	ErrRegistryClosed  = errors.New("registry closed")
)

type RoomState string

const (
	RoomAbsent RoomState = "absent"
	RoomActive RoomState = "active"
)

// MembershipListener is told about every membership change after the
// registry lock is released.
type MembershipListener func(roomID string)

type member struct {
	conn  *Connection
	rooms map[string]struct{}
}

// Registry maps rooms to the live connections joined to them. Membership is
// guarded by a single RWMutex held only for map updates and snapshots.
// Delivery to one room is serialized by a per-room lock so that frames
// reach every member in the order they were fanned out.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Connection
	conns  map[string]*member
	closed bool

	fanout *keylock.Locker

	listenersMu sync.RWMutex
	listeners   []MembershipListener

	log zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]*Connection),
		conns:  make(map[string]*member),
		fanout: keylock.New(),
		log:    log.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) Subscribe(l MembershipListener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

func (r *Registry) notify(roomID string) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(roomID)
	}
}

func (r *Registry) Attach(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.conns[c.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, c.ID())
	}
	r.conns[c.ID()] = &member{conn: c, rooms: make(map[string]struct{})}
	return nil
}

// Detach removes the connection and drops it from every room it joined.
// Listeners are notified once per room. Detaching twice is a no-op.
func (r *Registry) Detach(connID string) []string {
	r.mu.Lock()
	m, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.conns, connID)

	left := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		r.removeLocked(roomID, connID)
		left = append(left, roomID)
	}
	r.mu.Unlock()

	sort.Strings(left)
	for _, roomID := range left {
		r.notify(roomID)
	}
	return left
}

// Join adds the connection to roomID and returns the new room size. Joining
// a room twice leaves membership unchanged.
func (r *Registry) Join(connID, roomID string) (int, error) {
	if roomID == "" {
		return 0, fmt.Errorf("%w: roomId is required", models.ErrValidation)
	}

	r.mu.Lock()
	m, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return 0, ErrNotAttached
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*Connection)
		r.rooms[roomID] = room
	}
	room[connID] = m.conn
	m.rooms[roomID] = struct{}{}
	size := len(room)
	r.mu.Unlock()

	r.notify(roomID)
	return size, nil
}

// Leave removes the connection from roomID and returns the remaining size.
// Listeners are only notified when membership actually changed.
func (r *Registry) Leave(connID, roomID string) int {
	r.mu.Lock()
	m, ok := r.conns[connID]
	if !ok {
		size := len(r.rooms[roomID])
		r.mu.Unlock()
		return size
	}
	if _, joined := m.rooms[roomID]; !joined {
		size := len(r.rooms[roomID])
		r.mu.Unlock()
		return size
	}
	delete(m.rooms, roomID)
	size := r.removeLocked(roomID, connID)
	r.mu.Unlock()

	r.notify(roomID)
	return size
}

// removeLocked drops connID from roomID, pruning the room once empty.
func (r *Registry) removeLocked(roomID, connID string) int {
	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
		return 0
	}
	return len(room)
}

func (r *Registry) Size(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *Registry) State(roomID string) RoomState {
	if r.Size(roomID) > 0 {
		return RoomActive
	}
	return RoomAbsent
}

// Rooms returns every active room with its size.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.rooms))
	for id, room := range r.rooms {
		out[id] = len(room)
	}
	return out
}

func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	m, ok := r.conns[connID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Broadcast delivers one event to every current member of roomID and
// returns how many members accepted it.
func (r *Registry) Broadcast(roomID, event string, payload any) int {
	return r.BroadcastComputed(roomID, func(int) (string, any, bool) {
		return event, payload, true
	})
}

// BroadcastComputed snapshots roomID and lets compute build the frame from
// the snapshot size. Returning false skips delivery.
func (r *Registry) BroadcastComputed(roomID string, compute func(size int) (event string, payload any, ok bool)) int {
	unlock := r.fanout.Lock(roomID)
	defer unlock()

	r.mu.RLock()
	room := r.rooms[roomID]
	members := make([]*Connection, 0, len(room))
	for _, c := range room {
		members = append(members, c)
	}
	r.mu.RUnlock()

	event, payload, ok := compute(len(members))
	if !ok || len(members) == 0 {
		return 0
	}

	frame, err := models.EncodeEvent(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return 0
	}

	delivered := 0
	for _, c := range members {
		if err := c.enqueue(frame); err != nil {
			r.log.Warn().
				Err(err).
				Str("room_id", roomID).
				Str("conn_id", c.ID()).
				Str("event", event).
				Msg("delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Send delivers one event to a single attached connection.
func (r *Registry) Send(connID, event string, payload any) error {
	r.mu.RLock()
	m, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %w", models.ErrTransport, ErrNotAttached)
	}

	frame, err := models.EncodeEvent(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return m.conn.enqueue(frame)
}

// Shutdown refuses new connections and closes the outbound queue of every
// attached one, which makes their write pumps send a close frame.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, m := range r.conns {
		conns = append(conns, m.conn)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.closeSend()
	}
	r.log.Info().Int("connections", len(conns)).Msg("registry shut down")
}
