package codec

import "encoding/json"

// JSON is the default codec. []byte fields are base64 in the output, so it is
// the largest on the wire; prefer Msgpack or CBOR for binary-heavy sites.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
