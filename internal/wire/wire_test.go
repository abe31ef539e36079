package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/uuid"
)

var origin = uuid.MustParse("6f1c1f0e-5a43-4c55-9d5b-1b9e3f0f7a10")

func mustDecode(t *testing.T, b []byte) Message {
	t.Helper()
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return m
}

func mustBatch(t *testing.T, payloads [][]byte) []byte {
	t.Helper()
	b, err := EncodeBatch(origin, payloads)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	return b
}

func mustMutation(t *testing.T, payload []byte) []byte {
	t.Helper()
	b, err := EncodeMutation(origin, payload)
	if err != nil {
		t.Fatalf("EncodeMutation: %v", err)
	}
	return b
}

func TestMutationRTEmptyAndNonEmpty(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("users"), {0, 1, 2, 3}} {
		m := mustDecode(t, mustMutation(t, payload))
		if m.Kind != KindMutation || m.Origin != origin {
			t.Fatalf("header mismatch: kind=%s origin=%s", m.Kind, m.Origin)
		}
		if len(m.Payloads) != 1 || !bytes.Equal(m.Payloads[0], payload) {
			t.Fatalf("payload mismatch: got %x want %x", m.Payloads, payload)
		}
	}
}

func TestAllRT(t *testing.T) {
	m := mustDecode(t, EncodeAll(origin))
	if m.Kind != KindAll || m.Origin != origin || len(m.Payloads) != 0 {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	cases := [][][]byte{
		nil, // n=0
		{[]byte("a")},
		{[]byte("a"), nil, {9, 8, 7}},
		{[]byte("dup"), []byte("dup")},
	}
	for _, payloads := range cases {
		m := mustDecode(t, mustBatch(t, payloads))
		if m.Kind != KindBatch || len(m.Payloads) != len(payloads) {
			t.Fatalf("batch: kind=%s n=%d want %d", m.Kind, len(m.Payloads), len(payloads))
		}
		for i := range payloads {
			if !bytes.Equal(m.Payloads[i], payloads[i]) {
				t.Fatalf("item %d mismatch: got %q want %q", i, m.Payloads[i], payloads[i])
			}
		}
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	for name, enc := range map[string][]byte{
		"mutation": mustMutation(t, []byte("x")),
		"all":      EncodeAll(origin),
		"batch":    mustBatch(t, [][]byte{[]byte("v")}),
	} {
		enc = append(enc, 0xDE, 0xAD)
		if _, err := Decode(enc); err == nil {
			t.Fatalf("%s: expected error on trailing bytes", name)
		}
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := mustMutation(t, []byte("abc"))

	// bad magic
	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	// wrong version
	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	// unknown kind
	badKind := append([]byte(nil), enc...)
	badKind[5] = 0x7F
	if _, err := Decode(badKind); err == nil {
		t.Fatalf("expected error on unknown kind")
	}

	// plen too large (announce more than available); plen follows the header
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[hdrLen:hdrLen+4], uint32(len("abc")+1))
	if _, err := Decode(tooLong); err == nil {
		t.Fatalf("expected error on plen beyond buffer")
	}

	// truncated buffer
	if _, err := Decode(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
	if _, err := Decode(enc[:hdrLen-1]); err == nil {
		t.Fatalf("expected error on truncated header")
	}
}

func TestBatchBogusCount(t *testing.T) {
	// n = 0xFFFFFFFF with no items: must error, not allocate or panic.
	var buf bytes.Buffer
	header(&buf, KindBatch, origin)
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], ^uint32(0))
	buf.Write(u4[:])
	if _, err := Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected error on bogus n")
	}

	// n=2 but only one item
	one := mustBatch(t, [][]byte{[]byte("x")})
	binary.BigEndian.PutUint32(one[hdrLen:hdrLen+4], 2)
	if _, err := Decode(one); err == nil {
		t.Fatalf("expected error on truncated item list")
	}
}

func TestZeroCopyPayload(t *testing.T) {
	enc := mustMutation(t, []byte("Z"))
	m := mustDecode(t, enc)
	m.Payloads[0][0] = 'Q'
	if mustDecode(t, enc).Payloads[0][0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}

func TestKindString(t *testing.T) {
	if KindBatch.String() != "batch" || Kind(9).String() != "kind(9)" {
		t.Fatalf("Kind.String: %s %s", KindBatch, Kind(9))
	}
}

func TestPayloadLengthLimit(t *testing.T) {
	if err := checkLen(maxPayload); err != nil {
		t.Fatalf("max payload rejected: %v", err)
	}
	err := checkLen(maxPayload + 1)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("oversized payload: got %v want ErrTooLarge", err)
	}
}
