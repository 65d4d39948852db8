package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// TextCodec speaks the pipe-delimited format of the first browser client.
// It is asymmetric: Decode reads the client-to-server form, which never
// carries the sender id, and Encode writes the server-to-client form.
//
//	inbound:  join|x|y|room  move|x|y|room  chat|message|room  leave
//	          entityUpdate|entity|x|y|room  entityDamage|entity|damage|room
//	          entityDeath|entity|room
//	outbound: join|id|x|y|room  move|id|x|y|room  leave|id  chat|id|message
//	          enemyHost|host|room  entityUpdate|id|entity|x|y|room
//	          entityDamage|player|entity|damage|room  entityDeath|player|entity|room
type TextCodec struct{}

const textHostTag = "enemyHost"

// Name returns "text".
func (TextCodec) Name() string { return "text" }

// Binary reports false.
func (TextCodec) Binary() bool { return false }

// Encode renders msg in the server-to-client form.
func (TextCodec) Encode(msg Message) ([]byte, error) {
	var parts []string
	switch m := msg.(type) {
	case Join:
		parts = []string{string(KindJoin), m.ID, formatFloat(m.X), formatFloat(m.Y), m.RoomID}
	case Move:
		parts = []string{string(KindMove), m.ID, formatFloat(m.X), formatFloat(m.Y), m.RoomID}
	case Leave:
		parts = []string{string(KindLeave), m.ID}
	case Chat:
		parts = []string{string(KindChat), m.ID, m.Message}
	case HostAssigned:
		parts = []string{textHostTag, m.HostID, m.RoomID}
	case EntityUpdate:
		parts = []string{string(KindEntityUpdate), m.ID, m.EntityID, formatFloat(m.X), formatFloat(m.Y), m.RoomID}
	case EntityDamage:
		parts = []string{string(KindEntityDamage), m.PlayerID, m.EntityID, formatFloat(m.Damage), m.RoomID}
	case EntityDeath:
		parts = []string{string(KindEntityDeath), m.PlayerID, m.EntityID, m.RoomID}
	default:
		return nil, fmt.Errorf("cannot encode message of type %T", msg)
	}
	return []byte(strings.Join(parts, "|")), nil
}

// Decode parses the client-to-server form.
//
// Postcondition: Returns a message, or an error wrapping ErrMalformed or ErrUnknownMessage.
func (TextCodec) Decode(data []byte) (Message, error) {
	line := strings.TrimRight(string(data), "\r\n")
	parts := strings.Split(line, "|")
	tag := parts[0]
	args := parts[1:]

	switch Kind(tag) {
	case KindJoin, KindMove:
		if len(args) != 3 {
			return nil, malformed("%s expects x|y|room, got %d fields", tag, len(args))
		}
		x, y, err := parseXY(args[0], args[1])
		if err != nil {
			return nil, err
		}
		if args[2] == "" {
			return nil, malformed("%s requires room", tag)
		}
		if Kind(tag) == KindJoin {
			return Join{X: x, Y: y, RoomID: args[2]}, nil
		}
		return Move{X: x, Y: y, RoomID: args[2]}, nil
	case KindLeave:
		return Leave{}, nil
	case KindChat:
		if len(args) < 2 {
			return nil, malformed("chat expects message|room")
		}
		room := args[len(args)-1]
		if room == "" {
			return nil, malformed("chat requires room")
		}
		return Chat{Message: strings.Join(args[:len(args)-1], "|"), RoomID: room}, nil
	case KindEntityUpdate:
		if len(args) != 4 {
			return nil, malformed("entityUpdate expects entity|x|y|room, got %d fields", len(args))
		}
		x, y, err := parseXY(args[1], args[2])
		if err != nil {
			return nil, err
		}
		if args[0] == "" || args[3] == "" {
			return nil, malformed("entityUpdate requires entity and room")
		}
		return EntityUpdate{EntityID: args[0], X: x, Y: y, RoomID: args[3]}, nil
	case KindEntityDamage:
		if len(args) != 3 {
			return nil, malformed("entityDamage expects entity|damage|room, got %d fields", len(args))
		}
		dmg, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, malformed("entityDamage damage %q: %v", args[1], err)
		}
		if err := finite("damage", dmg); err != nil {
			return nil, err
		}
		if args[0] == "" || args[2] == "" {
			return nil, malformed("entityDamage requires entity and room")
		}
		return EntityDamage{EntityID: args[0], Damage: dmg, RoomID: args[2]}, nil
	case KindEntityDeath:
		if len(args) != 2 || args[0] == "" || args[1] == "" {
			return nil, malformed("entityDeath expects entity|room")
		}
		return EntityDeath{EntityID: args[0], RoomID: args[1]}, nil
	case "":
		return nil, malformed("empty frame")
	default:
		return nil, unknown(tag)
	}
}

func parseXY(xs, ys string) (float64, float64, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return 0, 0, malformed("x %q: %v", xs, err)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return 0, 0, malformed("y %q: %v", ys, err)
	}
	if err := finite("x and y", x, y); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
