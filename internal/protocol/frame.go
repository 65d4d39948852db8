package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// frame is the flat record shared by the structured codecs. Pointer fields
// distinguish an absent field from a zero value.
type frame struct {
	Type     string      `json:"type" msgpack:"type"`
	ID       *string     `json:"id,omitempty" msgpack:"id,omitempty"`
	X        *float64    `json:"x,omitempty" msgpack:"x,omitempty"`
	Y        *float64    `json:"y,omitempty" msgpack:"y,omitempty"`
	RoomID   *string     `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Message  *string     `json:"message,omitempty" msgpack:"message,omitempty"`
	EntityID *flexString `json:"entityId,omitempty" msgpack:"entityId,omitempty"`
	PlayerID *string     `json:"playerId,omitempty" msgpack:"playerId,omitempty"`
	Damage   *float64    `json:"damage,omitempty" msgpack:"damage,omitempty"`
	HostID   *string     `json:"hostId,omitempty" msgpack:"hostId,omitempty"`
}

// flexString accepts either a string or a number. Game clients number their
// entities; the relay treats the id as opaque.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("entity id must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f *flexString) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*f = flexString(t)
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		*f = flexString(fmt.Sprintf("%d", t))
	case float32:
		*f = flexString(strconv.FormatFloat(float64(t), 'f', -1, 32))
	case float64:
		*f = flexString(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return fmt.Errorf("entity id must be a string or number, got %T", v)
	}
	return nil
}

func strp(s string) *string      { return &s }
func floatp(f float64) *float64  { return &f }
func flexp(s string) *flexString { f := flexString(s); return &f }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// toFrame flattens msg into a frame.
func toFrame(msg Message) (frame, error) {
	switch m := msg.(type) {
	case Join:
		return frame{Type: string(KindJoin), ID: optional(m.ID), X: floatp(m.X), Y: floatp(m.Y), RoomID: strp(m.RoomID)}, nil
	case Move:
		return frame{Type: string(KindMove), ID: optional(m.ID), X: floatp(m.X), Y: floatp(m.Y), RoomID: strp(m.RoomID)}, nil
	case Leave:
		return frame{Type: string(KindLeave), ID: optional(m.ID)}, nil
	case Chat:
		return frame{Type: string(KindChat), ID: optional(m.ID), Message: strp(m.Message), RoomID: strp(m.RoomID)}, nil
	case EntityUpdate:
		return frame{Type: string(KindEntityUpdate), ID: optional(m.ID), RoomID: strp(m.RoomID), EntityID: flexp(m.EntityID), X: floatp(m.X), Y: floatp(m.Y)}, nil
	case EntityDamage:
		return frame{Type: string(KindEntityDamage), PlayerID: optional(m.PlayerID), RoomID: strp(m.RoomID), EntityID: flexp(m.EntityID), Damage: floatp(m.Damage)}, nil
	case EntityDeath:
		return frame{Type: string(KindEntityDeath), PlayerID: optional(m.PlayerID), RoomID: strp(m.RoomID), EntityID: flexp(m.EntityID)}, nil
	case HostAssigned:
		return frame{Type: string(KindHostAssigned), HostID: strp(m.HostID), RoomID: strp(m.RoomID)}, nil
	default:
		return frame{}, fmt.Errorf("cannot encode message of type %T", msg)
	}
}

// message validates f and converts it to its concrete message.
func (f frame) message() (Message, error) {
	switch Kind(f.Type) {
	case KindJoin, KindMove:
		if f.X == nil || f.Y == nil {
			return nil, malformed("%s requires x and y", f.Type)
		}
		if err := finite("x and y", *f.X, *f.Y); err != nil {
			return nil, err
		}
		if deref(f.RoomID) == "" {
			return nil, malformed("%s requires roomId", f.Type)
		}
		if Kind(f.Type) == KindJoin {
			return Join{ID: deref(f.ID), X: *f.X, Y: *f.Y, RoomID: *f.RoomID}, nil
		}
		return Move{ID: deref(f.ID), X: *f.X, Y: *f.Y, RoomID: *f.RoomID}, nil
	case KindLeave:
		return Leave{ID: deref(f.ID)}, nil
	case KindChat:
		if f.Message == nil {
			return nil, malformed("chat requires message")
		}
		if deref(f.RoomID) == "" {
			return nil, malformed("chat requires roomId")
		}
		return Chat{ID: deref(f.ID), Message: *f.Message, RoomID: *f.RoomID}, nil
	case KindEntityUpdate:
		if deref(f.RoomID) == "" || f.EntityID == nil || *f.EntityID == "" {
			return nil, malformed("entityUpdate requires roomId and entityId")
		}
		if f.X == nil || f.Y == nil {
			return nil, malformed("entityUpdate requires x and y")
		}
		if err := finite("x and y", *f.X, *f.Y); err != nil {
			return nil, err
		}
		return EntityUpdate{ID: deref(f.ID), RoomID: *f.RoomID, EntityID: string(*f.EntityID), X: *f.X, Y: *f.Y}, nil
	case KindEntityDamage:
		if deref(f.RoomID) == "" || f.EntityID == nil || *f.EntityID == "" {
			return nil, malformed("entityDamage requires roomId and entityId")
		}
		if f.Damage == nil {
			return nil, malformed("entityDamage requires damage")
		}
		if err := finite("damage", *f.Damage); err != nil {
			return nil, err
		}
		return EntityDamage{PlayerID: deref(f.PlayerID), RoomID: *f.RoomID, EntityID: string(*f.EntityID), Damage: *f.Damage}, nil
	case KindEntityDeath:
		if deref(f.RoomID) == "" || f.EntityID == nil || *f.EntityID == "" {
			return nil, malformed("entityDeath requires roomId and entityId")
		}
		return EntityDeath{PlayerID: deref(f.PlayerID), RoomID: *f.RoomID, EntityID: string(*f.EntityID)}, nil
	case KindHostAssigned:
		if deref(f.HostID) == "" || deref(f.RoomID) == "" {
			return nil, malformed("hostAssigned requires hostId and roomId")
		}
		return HostAssigned{HostID: *f.HostID, RoomID: *f.RoomID}, nil
	case "":
		return nil, malformed("missing type")
	default:
		return nil, unknown(f.Type)
	}
}
