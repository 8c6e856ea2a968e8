package codec

import "fmt"

// WireMessage is implemented by *V for values that encode themselves in the
// protobuf wire format.
type WireMessage interface {
	MarshalWire(b []byte) ([]byte, error)
	UnmarshalWire(b []byte) error
}

// Protobuf encodes V through its WireMessage methods.
// Use ByName or NewProtobuf, which check that *V implements WireMessage.
type Protobuf[V any] struct{}

func NewProtobuf[V any]() (Protobuf[V], error) {
	var v V
	if _, ok := any(&v).(WireMessage); !ok {
		return Protobuf[V]{}, fmt.Errorf("codec: %T does not implement WireMessage", &v)
	}
	return Protobuf[V]{}, nil
}

func (Protobuf[V]) Encode(v V) ([]byte, error) {
	m, ok := any(&v).(WireMessage)
	if !ok {
		return nil, fmt.Errorf("codec: %T does not implement WireMessage", &v)
	}
	return m.MarshalWire(nil)
}

func (Protobuf[V]) Decode(b []byte) (V, error) {
	var v V
	m, ok := any(&v).(WireMessage)
	if !ok {
		return v, fmt.Errorf("codec: %T does not implement WireMessage", &v)
	}
	err := m.UnmarshalWire(b)
	return v, err
}
