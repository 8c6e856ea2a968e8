// Package codec serializes stored response snapshots to bytes.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names accepted by ByName.
const (
	NameJSON     = "json"
	NameMsgpack  = "msgpack"
	NameCBOR     = "cbor"
	NameProtobuf = "protobuf"
)

// ByName returns the codec registered under name.
// maxDecode > 0 wraps it in a LimitCodec.
func ByName[V any](name string, maxDecode int) (Codec[V], error) {
	var inner Codec[V]
	switch name {
	case "", NameJSON:
		inner = JSON[V]{}
	case NameMsgpack:
		inner = Msgpack[V]{}
	case NameCBOR:
		cb, err := NewCBOR[V](true)
		if err != nil {
			return nil, err
		}
		inner = cb
	case NameProtobuf:
		pb, err := NewProtobuf[V]()
		if err != nil {
			return nil, err
		}
		inner = pb
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		return LimitCodec[V]{Inner: inner, MaxDecode: maxDecode}, nil
	}
	return inner, nil
}
