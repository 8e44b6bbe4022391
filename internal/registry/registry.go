// internal/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the outbound queue depth per connection.
const DefaultBufferSize = 64

// Connection is the outbound half of one client connection. The gateway's
// write pump drains OutChan until the registry closes it.
type Connection struct {
	ID      string
	OutChan chan []byte
	// Cancel stops the connection's pumps. May be nil.
	Cancel context.CancelFunc

	closed  bool
	evicted atomic.Bool
}

// Evicted reports whether the registry dropped the connection for falling
// behind.
func (c *Connection) Evicted() bool {
	return c.evicted.Load()
}

// Registry maps connection ids to outbound queues and rooms to the set of
// connections listening to them. Sends are synchronous enqueues that never
// block: a connection whose queue is full is evicted, so one slow reader
// cannot stall a room or reorder what everyone else sees.
type Registry struct {
	mu         sync.Mutex
	conns      map[string]*Connection
	rooms      map[string]map[string]struct{} // room -> conn ids
	connRooms  map[string]map[string]struct{} // conn id -> rooms
	bufferSize int
}

func New(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Registry{
		conns:      make(map[string]*Connection),
		rooms:      make(map[string]map[string]struct{}),
		connRooms:  make(map[string]map[string]struct{}),
		bufferSize: bufferSize,
	}
}

// Register adds a connection with a fresh outbound queue. Registering an id
// twice evicts the earlier connection, rooms included.
func (r *Registry) Register(id string, cancel context.CancelFunc) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[id]; ok {
		r.removeLocked(old)
	}
	conn := &Connection{
		ID:      id,
		OutChan: make(chan []byte, r.bufferSize),
		Cancel:  cancel,
	}
	r.conns[id] = conn
	return conn
}

// Unregister removes the connection from every room and closes its queue.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		r.removeLocked(conn)
	}
}

// Subscribe adds a registered connection to a room. Unknown connections are
// ignored.
func (r *Registry) Subscribe(room, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][id] = struct{}{}
	if r.connRooms[id] == nil {
		r.connRooms[id] = make(map[string]struct{})
	}
	r.connRooms[id][room] = struct{}{}
}

// DropRoom forgets a room. Its connections stay registered.
func (r *Registry) DropRoom(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.rooms[room] {
		delete(r.connRooms[id], room)
	}
	delete(r.rooms, room)
}

// Broadcast encodes msg once and enqueues it for every connection in room.
func (r *Registry) Broadcast(room string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithField("room", room).Error("registry: failed to encode broadcast")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.rooms[room] {
		if conn, ok := r.conns[id]; ok {
			r.enqueueLocked(conn, data)
		}
	}
}

// Send enqueues msg for a single connection. Unknown ids are ignored.
func (r *Registry) Send(id string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithField("conn", id).Error("registry: failed to encode message")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		r.enqueueLocked(conn, data)
	}
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// RoomSize reports how many connections listen to room.
func (r *Registry) RoomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

func (r *Registry) enqueueLocked(conn *Connection, data []byte) {
	if conn.closed {
		return
	}
	select {
	case conn.OutChan <- data:
	default:
		log.WithField("conn", conn.ID).Warn("registry: outbound queue full, evicting slow connection")
		conn.evicted.Store(true)
		r.removeLocked(conn)
	}
}

func (r *Registry) removeLocked(conn *Connection) {
	for room := range r.connRooms[conn.ID] {
		if members := r.rooms[room]; members != nil {
			delete(members, conn.ID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.connRooms, conn.ID)
	if r.conns[conn.ID] == conn {
		delete(r.conns, conn.ID)
	}
	r.closeLocked(conn)
}

// closeLocked closes the queue exactly once. Every send happens under r.mu,
// so nothing can be sending on it concurrently.
func (r *Registry) closeLocked(conn *Connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	close(conn.OutChan)
	if conn.Cancel != nil {
		conn.Cancel()
	}
}
