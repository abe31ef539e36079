package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes feed mutations that are protobuf messages. Use it when the
// writers publishing to the feed are not Go programs and already share a schema.
type Protobuf[M proto.Message] struct {
	new func() M // e.g. func() *eventspb.Mutation { return &eventspb.Mutation{} }
}

// NewProtobuf returns a codec that decodes into messages made by ctor. Decode
// never reuses a message, so applied mutations may be retained by the caller.
func NewProtobuf[M proto.Message](ctor func() M) Protobuf[M] {
	return Protobuf[M]{new: ctor}
}

func (c Protobuf[M]) Encode(m M) ([]byte, error) {
	return proto.Marshal(m)
}
func (c Protobuf[M]) Decode(b []byte) (M, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
