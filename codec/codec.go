// Package codec turns mutation events into bytes and back so they can travel
// between processes (see feed/redisfeed).
package codec

// Codec encodes/decodes mutation events M.
type Codec[M any] interface {
	Encode(M) ([]byte, error)
	Decode([]byte) (M, error)
}
