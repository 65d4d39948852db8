package protocol

import (
	"fmt"
	"sort"
)

// Codec converts between messages and frame payloads.
type Codec interface {
	// Name is the codec's configuration name.
	Name() string
	// Binary reports whether encoded frames must be sent as binary frames.
	Binary() bool
	// Encode renders msg as one frame payload.
	Encode(msg Message) ([]byte, error)
	// Decode parses one frame payload.
	Decode(data []byte) (Message, error)
}

var codecs = map[string]Codec{
	JSONCodec{}.Name():    JSONCodec{},
	MsgpackCodec{}.Name(): MsgpackCodec{},
	TextCodec{}.Name():    TextCodec{},
}

// Lookup returns the codec registered under name.
//
// Postcondition: Returns a non-nil Codec, or an error naming the known codecs.
func Lookup(name string) (Codec, error) {
	if c, ok := codecs[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown codec %q (known: %v)", name, Names())
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
