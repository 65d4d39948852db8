package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"pgregory.net/rapid"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"json", "msgpack", "text"} {
		c, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	_, err := Lookup("xml")
	assert.Error(t, err)
	assert.Equal(t, []string{"json", "msgpack", "text"}, Names())
}

func TestJSONCodec_DecodeClientMessages(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Message
	}{
		{"join", `{"type":"join","id":"a","x":1.5,"y":-2,"roomId":"r1"}`, Join{ID: "a", X: 1.5, Y: -2, RoomID: "r1"}},
		{"join at origin", `{"type":"join","x":0,"y":0,"roomId":"r1"}`, Join{X: 0, Y: 0, RoomID: "r1"}},
		{"move", `{"type":"move","id":"a","x":3,"y":4,"roomId":"r2"}`, Move{ID: "a", X: 3, Y: 4, RoomID: "r2"}},
		{"leave", `{"type":"leave","id":"a"}`, Leave{ID: "a"}},
		{"chat", `{"type":"chat","id":"a","message":"hi there","roomId":"r1"}`, Chat{ID: "a", Message: "hi there", RoomID: "r1"}},
		{"empty chat", `{"type":"chat","message":"","roomId":"r1"}`, Chat{Message: "", RoomID: "r1"}},
		{"entity update", `{"type":"entityUpdate","id":"a","roomId":"r1","entityId":"slime-1","x":5,"y":6}`, EntityUpdate{ID: "a", RoomID: "r1", EntityID: "slime-1", X: 5, Y: 6}},
		{"numeric entity id", `{"type":"entityUpdate","roomId":"r1","entityId":7,"x":5,"y":6}`, EntityUpdate{RoomID: "r1", EntityID: "7", X: 5, Y: 6}},
		{"entity damage", `{"type":"entityDamage","playerId":"a","roomId":"r1","entityId":"3","damage":20}`, EntityDamage{PlayerID: "a", RoomID: "r1", EntityID: "3", Damage: 20}},
		{"entity death", `{"type":"entityDeath","playerId":"a","roomId":"r1","entityId":"3"}`, EntityDeath{PlayerID: "a", RoomID: "r1", EntityID: "3"}},
		{"host assigned", `{"type":"hostAssigned","hostId":"a","roomId":"r1"}`, HostAssigned{HostID: "a", RoomID: "r1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSONCodec{}.Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"not json", `join|1|2|r1`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"missing type", `{"x":1}`, ErrMalformed},
		{"unknown type", `{"type":"teleport","x":1}`, ErrUnknownMessage},
		{"join without y", `{"type":"join","x":1,"roomId":"r1"}`, ErrMalformed},
		{"move without room", `{"type":"move","x":1,"y":2}`, ErrMalformed},
		{"move with empty room", `{"type":"move","x":1,"y":2,"roomId":""}`, ErrMalformed},
		{"x wrong type", `{"type":"move","x":"far","y":2,"roomId":"r1"}`, ErrMalformed},
		{"chat without message", `{"type":"chat","roomId":"r1"}`, ErrMalformed},
		{"entity update without entity", `{"type":"entityUpdate","roomId":"r1","x":1,"y":1}`, ErrMalformed},
		{"entity id bool", `{"type":"entityDeath","roomId":"r1","entityId":true}`, ErrMalformed},
		{"damage without amount", `{"type":"entityDamage","roomId":"r1","entityId":"1"}`, ErrMalformed},
		{"host without host", `{"type":"hostAssigned","roomId":"r1"}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSONCodec{}.Decode([]byte(tt.in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestJSONCodec_EncodeOmitsEmptyID(t *testing.T) {
	data, err := JSONCodec{}.Encode(HostAssigned{HostID: "a", RoomID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hostAssigned","hostId":"a","roomId":"r1"}`, string(data))

	data, err = JSONCodec{}.Encode(Move{ID: "a", X: 0, Y: 0, RoomID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"move","id":"a","x":0,"y":0,"roomId":"r1"}`, string(data))
}

func TestMsgpackCodec_DecodeNumericEntityID(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{
		"type": "entityDeath", "roomId": "r1", "entityId": 12,
	})
	require.NoError(t, err)

	got, err := MsgpackCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, EntityDeath{RoomID: "r1", EntityID: "12"}, got)
}

func TestMsgpackCodec_DecodeErrors(t *testing.T) {
	_, err := MsgpackCodec{}.Decode([]byte{0xc1})
	assert.ErrorIs(t, err, ErrMalformed)

	data, err := msgpack.Marshal(map[string]any{"type": "warp"})
	require.NoError(t, err)
	_, err = MsgpackCodec{}.Decode(data)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestMsgpackCodec_RejectsNonFiniteNumbers(t *testing.T) {
	frames := []map[string]any{
		{"type": "move", "x": math.NaN(), "y": 0.0, "roomId": "r1"},
		{"type": "join", "x": 0.0, "y": math.Inf(1), "roomId": "r1"},
		{"type": "entityUpdate", "entityId": "e", "x": math.Inf(-1), "y": 0.0, "roomId": "r1"},
		{"type": "entityDamage", "entityId": "e", "damage": math.NaN(), "roomId": "r1"},
	}
	for _, f := range frames {
		data, err := msgpack.Marshal(f)
		require.NoError(t, err)
		_, err = MsgpackCodec{}.Decode(data)
		assert.ErrorIs(t, err, ErrMalformed, "frame %v", f)
	}
}

func TestTextCodec_DecodeClientForms(t *testing.T) {
	tests := []struct {
		in   string
		want Message
	}{
		{"join|100|200|town", Join{X: 100, Y: 200, RoomID: "town"}},
		{"move|1.25|-3|forest", Move{X: 1.25, Y: -3, RoomID: "forest"}},
		{"leave", Leave{}},
		{"chat|hello|town", Chat{Message: "hello", RoomID: "town"}},
		{"chat|a|b|c|town", Chat{Message: "a|b|c", RoomID: "town"}},
		{"chat||town", Chat{Message: "", RoomID: "town"}},
		{"entityUpdate|4|10|20|town", EntityUpdate{EntityID: "4", X: 10, Y: 20, RoomID: "town"}},
		{"entityDamage|4|20|town", EntityDamage{EntityID: "4", Damage: 20, RoomID: "town"}},
		{"entityDeath|4|town", EntityDeath{EntityID: "4", RoomID: "town"}},
		{"move|1|2|town\r\n", Move{X: 1, Y: 2, RoomID: "town"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TextCodec{}.Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextCodec_DecodeErrors(t *testing.T) {
	for _, in := range []string{"", "join|1|2", "move|x|2|town", "move|1|2|", "chat|town", "entityUpdate|4|1|town", "entityDamage|4|lots|town", "entityDeath|4",
		"move|NaN|0|r1", "join|0|+Inf|r1", "move|-Inf|1|r1", "entityUpdate|4|nan|1|r1", "entityDamage|e|Inf|r1"} {
		_, err := TextCodec{}.Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
	_, err := TextCodec{}.Decode([]byte("enemyUpdate|{}"))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestTextCodec_EncodeServerForms(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Join{ID: "a", X: 1, Y: 2.5, RoomID: "town"}, "join|a|1|2.5|town"},
		{Move{ID: "a", X: 3, Y: 4, RoomID: "town"}, "move|a|3|4|town"},
		{Leave{ID: "a"}, "leave|a"},
		{Chat{ID: "a", Message: "hi|there", RoomID: "town"}, "chat|a|hi|there"},
		{HostAssigned{HostID: "a", RoomID: "town"}, "enemyHost|a|town"},
		{EntityUpdate{ID: "a", EntityID: "4", X: 1, Y: 2, RoomID: "town"}, "entityUpdate|a|4|1|2|town"},
		{EntityDamage{PlayerID: "b", EntityID: "4", Damage: 7.5, RoomID: "town"}, "entityDamage|b|4|7.5|town"},
		{EntityDeath{PlayerID: "b", EntityID: "4", RoomID: "town"}, "entityDeath|b|4|town"},
	}
	for _, tt := range tests {
		got, err := TextCodec{}.Encode(tt.msg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestSender(t *testing.T) {
	assert.Equal(t, "a", Sender(Move{ID: "a"}))
	assert.Equal(t, "b", Sender(EntityDamage{PlayerID: "b"}))
	assert.Equal(t, "", Sender(HostAssigned{HostID: "c"}))
}

func genMessage() *rapid.Generator[Message] {
	id := rapid.StringMatching(`[a-z0-9-]{1,12}`)
	room := rapid.StringMatching(`[a-z_]{1,10}`)
	coord := rapid.Float64Range(-1e6, 1e6)
	return rapid.Custom(func(t *rapid.T) Message {
		switch rapid.IntRange(0, 7).Draw(t, "kind") {
		case 0:
			return Join{ID: id.Draw(t, "id"), X: coord.Draw(t, "x"), Y: coord.Draw(t, "y"), RoomID: room.Draw(t, "room")}
		case 1:
			return Move{ID: id.Draw(t, "id"), X: coord.Draw(t, "x"), Y: coord.Draw(t, "y"), RoomID: room.Draw(t, "room")}
		case 2:
			return Leave{ID: id.Draw(t, "id")}
		case 3:
			return Chat{ID: id.Draw(t, "id"), Message: rapid.StringMatching(`[ -~]{0,40}`).Draw(t, "text"), RoomID: room.Draw(t, "room")}
		case 4:
			return EntityUpdate{ID: id.Draw(t, "id"), RoomID: room.Draw(t, "room"), EntityID: id.Draw(t, "entity"), X: coord.Draw(t, "x"), Y: coord.Draw(t, "y")}
		case 5:
			return EntityDamage{PlayerID: id.Draw(t, "id"), RoomID: room.Draw(t, "room"), EntityID: id.Draw(t, "entity"), Damage: coord.Draw(t, "damage")}
		case 6:
			return EntityDeath{PlayerID: id.Draw(t, "id"), RoomID: room.Draw(t, "room"), EntityID: id.Draw(t, "entity")}
		default:
			return HostAssigned{HostID: id.Draw(t, "id"), RoomID: room.Draw(t, "room")}
		}
	})
}

// Property: the structured codecs decode exactly what they encode.
func TestPropertyStructuredCodecsRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				msg := genMessage().Draw(rt, "msg")
				data, err := c.Encode(msg)
				if err != nil {
					rt.Fatalf("encode %#v: %v", msg, err)
				}
				got, err := c.Decode(data)
				if err != nil {
					rt.Fatalf("decode %q: %v", data, err)
				}
				if got != msg {
					rt.Fatalf("round trip changed %#v into %#v", msg, got)
				}
			})
		})
	}
}

// Property: no input makes a codec panic; every failure is classified.
func TestPropertyDecodeNeverPanics(t *testing.T) {
	for _, c := range []Codec{JSONCodec{}, MsgpackCodec{}, TextCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(rt, "data")
				_, err := c.Decode(data)
				if err != nil && !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrUnknownMessage) {
					rt.Fatalf("unclassified error %v", err)
				}
			})
		})
	}
}
