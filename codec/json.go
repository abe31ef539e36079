package codec

import "encoding/json"

// JSON encodes mutations with encoding/json. The zero value is ready to use.
type JSON[M any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[M]) Encode(m M) ([]byte, error) { return json.Marshal(m) }
func (JSON[M]) Decode(b []byte) (M, error) {
	var m M
	err := json.Unmarshal(b, &m)
	return m, err
}
