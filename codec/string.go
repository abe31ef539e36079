package codec

// String is the codec for mutations that are plain names ("users", "orders:42").
type String struct{}

var _ Codec[string] = String{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
