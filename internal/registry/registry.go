// Package registry tracks every live transport connection and which
// broadcast audience / chat room it is attached to. It is the only global
// store; disconnect events use it to map a connection id back to the
// cleanup work owed in the right session and room.
package registry

import (
	"sync"

	"github.com/mossy-p/onair/internal/models"
)

// Sender pushes one event to a single client without blocking. It reports
// false when the client's buffer is full or the connection is gone; callers
// treat that as a delivery failure for this recipient only.
type Sender interface {
	Send(ev models.Event) bool
}

// Conn is the registry's record of one live connection.
type Conn struct {
	ID     string
	Sender Sender

	// BroadcastID is set while the connection is attached to a broadcast
	// audience (as broadcaster or listener); RoomID while in a chat room.
	BroadcastID string
	RoomID      string
}

// Registry is an explicitly constructed connection table.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

func (r *Registry) Register(id string, s Sender) {
	r.mu.Lock()
	r.conns[id] = &Conn{ID: id, Sender: s}
	r.mu.Unlock()
}

// Unregister removes the connection and returns its last attachment record
// so the caller can run session/room cleanup.
func (r *Registry) Unregister(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Conn{}, false
	}
	delete(r.conns, id)
	return *c, true
}

func (r *Registry) SetBroadcast(id, broadcastID string) {
	r.mu.Lock()
	if c, ok := r.conns[id]; ok {
		c.BroadcastID = broadcastID
	}
	r.mu.Unlock()
}

func (r *Registry) SetRoom(id, roomID string) {
	r.mu.Lock()
	if c, ok := r.conns[id]; ok {
		c.RoomID = roomID
	}
	r.mu.Unlock()
}

// Send delivers one event to one connection. Unknown ids and full buffers
// both report false.
func (r *Registry) Send(id string, ev models.Event) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Sender.Send(ev)
}

// Broadcast delivers one event to every registered connection.
func (r *Registry) Broadcast(ev models.Event) {
	r.mu.RLock()
	senders := make([]Sender, 0, len(r.conns))
	for _, c := range r.conns {
		senders = append(senders, c.Sender)
	}
	r.mu.RUnlock()

	for _, s := range senders {
		s.Send(ev)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
