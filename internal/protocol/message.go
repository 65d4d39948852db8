// Package protocol defines the room coordination wire messages and the codecs
// that turn them into transport frames.
//
// Every message is a member of a closed set discriminated by Kind. Decoding
// never panics: an unrecognised discriminant yields ErrUnknownMessage and a
// bad shape or missing required field yields ErrMalformed.
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Kind is the wire discriminant of a message.
type Kind string

const (
	KindJoin         Kind = "join"
	KindMove         Kind = "move"
	KindLeave        Kind = "leave"
	KindChat         Kind = "chat"
	KindEntityUpdate Kind = "entityUpdate"
	KindEntityDamage Kind = "entityDamage"
	KindEntityDeath  Kind = "entityDeath"
	KindHostAssigned Kind = "hostAssigned"
)

// ErrUnknownMessage is returned when a frame carries an unrecognised discriminant.
var ErrUnknownMessage = errors.New("unknown message")

// ErrMalformed is returned when a frame cannot be parsed or lacks a required field.
var ErrMalformed = errors.New("malformed message")

// Message is one decoded wire message.
type Message interface {
	Kind() Kind
}

// Join announces a player entering a room. Inbound it registers the sender;
// outbound it is the join notice for another player.
type Join struct {
	ID     string
	X, Y   float64
	RoomID string
}

// Move reports a position. A RoomID different from the sender's current room
// is a room transition.
type Move struct {
	ID     string
	X, Y   float64
	RoomID string
}

// Leave is an explicit disconnect inbound and a leave notice outbound.
type Leave struct {
	ID string
}

// Chat is relayed verbatim to the sender's room.
type Chat struct {
	ID      string
	Message string
	RoomID  string
}

// EntityUpdate carries authoritative state for one non-player entity.
// Only the room host's updates are relayed.
type EntityUpdate struct {
	ID       string
	RoomID   string
	EntityID string
	X, Y     float64
}

// EntityDamage reports damage dealt to a non-player entity.
type EntityDamage struct {
	PlayerID string
	RoomID   string
	EntityID string
	Damage   float64
}

// EntityDeath reports the death of a non-player entity.
type EntityDeath struct {
	PlayerID string
	RoomID   string
	EntityID string
}

// HostAssigned names the authoritative simulation host of a room.
type HostAssigned struct {
	HostID string
	RoomID string
}

func (Join) Kind() Kind         { return KindJoin }
func (Move) Kind() Kind         { return KindMove }
func (Leave) Kind() Kind        { return KindLeave }
func (Chat) Kind() Kind         { return KindChat }
func (EntityUpdate) Kind() Kind { return KindEntityUpdate }
func (EntityDamage) Kind() Kind { return KindEntityDamage }
func (EntityDeath) Kind() Kind  { return KindEntityDeath }
func (HostAssigned) Kind() Kind { return KindHostAssigned }

// Sender returns the player id a message claims to come from, or "" when the
// message does not name one.
func Sender(msg Message) string {
	switch m := msg.(type) {
	case Join:
		return m.ID
	case Move:
		return m.ID
	case Leave:
		return m.ID
	case Chat:
		return m.ID
	case EntityUpdate:
		return m.ID
	case EntityDamage:
		return m.PlayerID
	case EntityDeath:
		return m.PlayerID
	default:
		return ""
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// finite rejects NaN and infinities, which the JSON codec cannot encode for
// the other peers in the room.
func finite(field string, vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return malformed("%s must be finite, got %v", field, v)
		}
	}
	return nil
}

func unknown(tag string) error {
	return fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
}
