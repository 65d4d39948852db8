package protocol

import (
	"encoding/json"
	"fmt"
)

// JSONCodec encodes messages as flat JSON objects discriminated by "type".
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Binary reports false: JSON frames are sent as text.
func (JSONCodec) Binary() bool { return false }

// Encode renders msg as a JSON object.
func (JSONCodec) Encode(msg Message) ([]byte, error) {
	f, err := toFrame(msg)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses a JSON object into its concrete message.
//
// Postcondition: Returns a message, or an error wrapping ErrMalformed or ErrUnknownMessage.
func (JSONCodec) Decode(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, malformed("%v", err)
	}
	return f.message()
}
