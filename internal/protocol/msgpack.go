package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec encodes messages as MessagePack maps with the same field
// names as the JSON codec.
type MsgpackCodec struct{}

// Name returns "msgpack".
func (MsgpackCodec) Name() string { return "msgpack" }

// Binary reports true.
func (MsgpackCodec) Binary() bool { return true }

// Encode renders msg as a MessagePack map.
func (MsgpackCodec) Encode(msg Message) ([]byte, error) {
	f, err := toFrame(msg)
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses a MessagePack map into its concrete message.
//
// Postcondition: Returns a message, or an error wrapping ErrMalformed or ErrUnknownMessage.
func (MsgpackCodec) Decode(data []byte) (Message, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, malformed("%v", err)
	}
	return f.message()
}
