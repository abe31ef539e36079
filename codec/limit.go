package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit.Decode for oversized payloads.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit wraps another codec and refuses to decode payloads longer than
// MaxDecode bytes. Feed messages come from a shared broker, so a consumer
// should not trust their size. MaxDecode <= 0 disables the check.
type Limit[M any] struct {
	Inner     Codec[M]
	MaxDecode int
}

func (c Limit[M]) Encode(m M) ([]byte, error) { return c.Inner.Encode(m) }
func (c Limit[M]) Decode(b []byte) (M, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero M
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
