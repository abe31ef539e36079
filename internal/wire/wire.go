// Package wire frames mutation feed messages.
//
//	magic(4) | ver(1) | kind(1) | origin(16) | body
//
//	kind=mutation: plen(u32 be) | payload(plen)
//	kind=all:      (empty)
//	kind=batch:    n(u32 be) | [plen(u32 be) | payload(plen)] * n
//
// Decoding is strict: trailing bytes and short buffers are ErrCorrupt. Payload
// slices alias the input buffer.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const version byte = 1

type Kind byte

const (
	KindMutation Kind = 1
	KindAll      Kind = 2
	KindBatch    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindMutation:
		return "mutation"
	case KindAll:
		return "all"
	case KindBatch:
		return "batch"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

const hdrLen = 4 + 1 + 1 + 16

// maxPayload is the largest length a u32 prefix can carry.
const maxPayload = 1<<32 - 1

var (
	ErrCorrupt  = errors.New("subcache: corrupt feed message")
	ErrTooLarge = errors.New("subcache: feed payload exceeds 4GiB")
	magic4      = [...]byte{'S', 'U', 'B', 'C'}
)

// Message is one decoded feed message.
type Message struct {
	Kind     Kind
	Origin   uuid.UUID
	Payloads [][]byte // one for KindMutation, none for KindAll
}

func header(buf *bytes.Buffer, k Kind, origin uuid.UUID) {
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(k))
	buf.Write(origin[:])
}

func putLen(buf *bytes.Buffer, n int) {
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(n))
	buf.Write(u4[:])
}

func checkLen(n uint64) error {
	if n > maxPayload {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	return nil
}

func EncodeMutation(origin uuid.UUID, payload []byte) ([]byte, error) {
	if err := checkLen(uint64(len(payload))); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(hdrLen + 4 + len(payload))
	header(&buf, KindMutation, origin)
	putLen(&buf, len(payload))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func EncodeAll(origin uuid.UUID) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen)
	header(&buf, KindAll, origin)
	return buf.Bytes()
}

// EncodeBatch frames several mutations produced by one write.
func EncodeBatch(origin uuid.UUID, payloads [][]byte) ([]byte, error) {
	total := hdrLen + 4
	for _, p := range payloads {
		if err := checkLen(uint64(len(p))); err != nil {
			return nil, err
		}
		total += 4 + len(p)
	}

	var buf bytes.Buffer
	buf.Grow(total)
	header(&buf, KindBatch, origin)
	putLen(&buf, len(payloads))
	for _, p := range payloads {
		putLen(&buf, len(p))
		buf.Write(p)
	}
	return buf.Bytes(), nil
}

// Decode parses any message kind.
func Decode(b []byte) (Message, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Message{}, ErrCorrupt
	}
	m := Message{Kind: Kind(b[5])}
	copy(m.Origin[:], b[6:hdrLen])
	off := hdrLen

	switch m.Kind {
	case KindAll:
		// no body
	case KindMutation:
		p, next, ok := payloadAt(b, off)
		if !ok {
			return Message{}, ErrCorrupt
		}
		m.Payloads = [][]byte{p}
		off = next
	case KindBatch:
		if off+4 > len(b) {
			return Message{}, ErrCorrupt
		}
		n := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		// Every item needs at least its length prefix; do not trust n for allocation.
		if n > (len(b)-off)/4 {
			return Message{}, ErrCorrupt
		}
		m.Payloads = make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			p, next, ok := payloadAt(b, off)
			if !ok {
				return Message{}, ErrCorrupt
			}
			m.Payloads = append(m.Payloads, p)
			off = next
		}
	default:
		return Message{}, ErrCorrupt
	}

	if off != len(b) {
		return Message{}, ErrCorrupt
	}
	return m, nil
}

func payloadAt(b []byte, off int) (p []byte, next int, ok bool) {
	if off+4 > len(b) {
		return nil, 0, false
	}
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen > len(b)-off { // overflow-safe bound check
		return nil, 0, false
	}
	return b[off : off+plen], off + plen, true
}
