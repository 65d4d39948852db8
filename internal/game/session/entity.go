// Package session provides the connection registry: live connections, player
// positions, room membership and room transitions, with the authority elector
// kept consistent under the same lock.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/roomsync/internal/protocol"
)

// ErrEntityClosed is returned by Push after Close.
var ErrEntityClosed = errors.New("entity closed")

// ErrQueueFull is returned by Push when the peer is not draining its queue.
var ErrQueueFull = errors.New("entity queue full")

// Entity is the connection handle: a bounded outbound queue for one player.
// Push never blocks, so a slow peer cannot stall a broadcast to the others.
type Entity struct {
	id     string
	events chan protocol.Message
	mu     sync.Mutex
	closed bool
}

// NewEntity creates an Entity for the given player id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Entity with an open queue of bufferSize (default 64).
func NewEntity(id string, bufferSize int) *Entity {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Entity{
		id:     id,
		events: make(chan protocol.Message, bufferSize),
	}
}

// ID returns the player id the entity delivers to.
func (e *Entity) ID() string {
	return e.id
}

// Push enqueues msg for delivery.
//
// Postcondition: msg is enqueued, or ErrEntityClosed / ErrQueueFull is returned.
func (e *Entity) Push(msg protocol.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: %s", ErrEntityClosed, e.id)
	}
	select {
	case e.events <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, e.id)
	}
}

// Events returns the queue. The transport writer drains it; the channel is
// closed once the entity is closed and drained.
func (e *Entity) Events() <-chan protocol.Message {
	return e.events
}

// Close closes the queue. It is safe to call more than once.
//
// Postcondition: Further Push calls return ErrEntityClosed.
func (e *Entity) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

// IsClosed reports whether the entity has been closed.
func (e *Entity) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
