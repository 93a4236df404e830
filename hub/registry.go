package hub

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/omdarshan-4964/CodeStream/domain"
	"github.com/omdarshan-4964/CodeStream/metrics"
)

type member struct {
	conn     domain.Connection
	name     string
	failures atomic.Int32
}

type room struct {
	id      string
	mu      sync.RWMutex
	members []*member // join order
}

func (rm *room) indexOf(id string) int {
	for i, m := range rm.members {
		if m.conn.ID() == id {
			return i
		}
	}
	return -1
}

func (rm *room) rosterLocked() []domain.Member {
	roster := make([]domain.Member, len(rm.members))
	for i, m := range rm.members {
		roster[i] = domain.Member{ID: m.conn.ID(), Username: m.name}
	}
	return roster
}

// Registry maps room ids to their members. Lock order is always
// Registry.mu before room.mu; membership hooks run with only room.mu held.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	index map[string]*room // connection id -> room

	changed func(rm *room)
	stats   *metrics.Recorder
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		index: make(map[string]*room),
	}
}

// Join adds conn to roomID, creating the room if needed, and returns the
// roster as it stands right after the join.
func (r *Registry) Join(roomID string, conn domain.Connection, displayName string) ([]domain.Member, error) {
	if roomID == "" {
		return nil, domain.ErrMissingRoomIdentifier
	}

	r.mu.Lock()
	if cur, ok := r.index[conn.ID()]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyJoined, cur.id)
	}
	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{id: roomID}
		r.rooms[roomID] = rm
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.members = append(rm.members, &member{conn: conn, name: displayName})
	r.index[conn.ID()] = rm
	r.mu.Unlock()

	if !exists {
		r.stats.RoomOpened()
	}
	r.stats.Joined()
	slog.Info("client joined", "room", roomID, "clientId", conn.ID(), "clients", len(rm.members))

	if r.changed != nil {
		r.changed(rm)
	}
	return rm.rosterLocked(), nil
}

// Leave removes conn from its room. ok is false when conn was not a member,
// which makes repeated calls harmless.
func (r *Registry) Leave(conn domain.Connection) (roomID string, roster []domain.Member, ok bool) {
	r.mu.Lock()
	rm, found := r.index[conn.ID()]
	if !found {
		r.mu.Unlock()
		return "", nil, false
	}
	delete(r.index, conn.ID())

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if i := rm.indexOf(conn.ID()); i >= 0 {
		rm.members = slices.Delete(rm.members, i, i+1)
	}
	empty := len(rm.members) == 0
	if empty {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()

	r.stats.Left()
	slog.Info("client left", "room", rm.id, "clientId", conn.ID(), "clients", len(rm.members))
	if empty {
		r.stats.RoomClosed()
		slog.Info("room removed", "room", rm.id)
		return rm.id, nil, true
	}

	if r.changed != nil {
		r.changed(rm)
	}
	return rm.id, rm.rosterLocked(), true
}

// Members returns the roster of roomID, empty if the room does not exist.
func (r *Registry) Members(roomID string) []domain.Member {
	var roster []domain.Member
	r.withRoom(roomID, func(rm *room) {
		roster = rm.rosterLocked()
	})
	return roster
}

// RoomOf reports the room a connection currently belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.index[connID]
	if !ok {
		return "", false
	}
	return rm.id, true
}

// HasRoom reports whether the registry holds an entry for roomID.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) Stats() (rooms, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.index)
}

// withRoom runs fn with the room read-locked. fn is not called when the
// room does not exist.
func (r *Registry) withRoom(roomID string, fn func(rm *room)) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	rm.mu.RLock()
	r.mu.RUnlock()
	defer rm.mu.RUnlock()
	fn(rm)
}
