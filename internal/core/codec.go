package core

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype used for all core calls.
const CodecName = "json"

// Frame is an already-encoded JSON message.
type Frame []byte

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if f, ok := v.(*Frame); ok {
		if len(*f) == 0 {
			return []byte("{}"), nil
		}
		return *f, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if f, ok := v.(*Frame); ok {
		*f = append((*f)[:0], data...)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
