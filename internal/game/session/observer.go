package session

import "time"

// EventKind classifies a presence or authority change.
type EventKind string

const (
	EventJoined       EventKind = "joined"
	EventLeft         EventKind = "left"
	EventMoved        EventKind = "moved"
	EventHostAssigned EventKind = "host_assigned"
	EventHostVacated  EventKind = "host_vacated"
)

// Event describes one change to the registry.
type Event struct {
	Kind     EventKind
	PlayerID string
	RoomID   string
	// FromRoomID is set for EventMoved.
	FromRoomID string
	At         time.Time
}

// Observer receives registry events. Observe is called with the registry
// lock held and must not block.
type Observer interface {
	Observe(evt Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(evt Event)

// Observe calls f(evt).
func (f ObserverFunc) Observe(evt Event) { f(evt) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
