package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by LimitCodec for payloads over its bound.
var ErrTooLarge = errors.New("codec: payload too large")

// LimitCodec bounds what a generation will decode. A shared Redis store can
// hold entries written by another replica with a larger body limit; those
// fail Decode, and storage self-heals them as a miss. MaxDecode <= 0 means
// no bound.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
