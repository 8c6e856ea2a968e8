package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack stores response bodies as raw bin, which keeps binary assets
// (images, fonts) near their original size. Field names come from the
// `msgpack` tags on Response.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
