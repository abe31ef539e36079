package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes mutations with fxamacker/cbor.
// The zero value is NOT ready to use. Construct with NewCBOR or MustCBOR.
type CBOR[M any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR constructs a CBOR codec. deterministic selects RFC 8949 core
// deterministic encoding, so equal events always produce equal bytes and
// feed messages can be compared or hashed as-is; otherwise the smaller preferred-unsorted encoding is used.
// Times are written as RFC3339Nano strings.
func NewCBOR[M any](deterministic bool) (CBOR[M], error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[M]{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR[M]{}, err
	}
	return CBOR[M]{enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR[M any](deterministic bool) CBOR[M] {
	c, err := NewCBOR[M](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[M]) Encode(m M) ([]byte, error) {
	return c.enc.Marshal(m)
}

func (c CBOR[M]) Decode(b []byte) (M, error) {
	var m M
	err := c.dec.Unmarshal(b, &m)
	return m, err
}
