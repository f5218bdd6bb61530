package tfrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource simulates a growing file: bytes beyond `visible` exist in the
// backing slice but are not yet "written".
type memSource struct {
	data    []byte
	visible int64
}

func (m *memSource) Size() (int64, error) { return m.visible, nil }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.visible {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:m.visible])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memSource) showAll() { m.visible = int64(len(m.data)) }

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("first"),
		{},
		[]byte("a considerably longer record body with some entropy 1234567890"),
		{0, 1, 2, 3, 255},
	}
	var buf []byte
	for _, p := range payloads {
		buf = Append(buf, p)
	}
	src := &memSource{data: buf}
	src.showAll()

	r := NewReader(src, 0)
	for i, want := range payloads {
		rec, err := r.Next()
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, want, rec.Payload)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrIncomplete)
}

// Frames must be recovered identically no matter how the bytes trickle in.
func TestRoundTripByteAtATime(t *testing.T) {
	payloads := make([][]byte, 7)
	var buf []byte
	for i := range payloads {
		payloads[i] = []byte(fmt.Sprintf("record-%d-body", i))
		buf = Append(buf, payloads[i])
	}
	src := &memSource{data: buf}
	r := NewReader(src, 0)

	var got [][]byte
	for src.visible <= int64(len(buf)) {
		for {
			rec, err := r.Next()
			if err != nil {
				require.ErrorIs(t, err, ErrIncomplete)
				break
			}
			got = append(got, rec.Payload)
		}
		src.visible++
	}
	require.Len(t, got, len(payloads))
	for i := range payloads {
		assert.Equal(t, payloads[i], got[i])
	}
}

func TestPayloadBitFlip(t *testing.T) {
	buf := Append(nil, []byte("precious bytes"))
	buf[headerSize+3] ^= 0x10
	src := &memSource{data: buf}
	src.showAll()

	r := NewReader(src, 0)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, int64(0), r.Offset(), "cursor must freeze on corruption")
}

func TestLengthBitFlip(t *testing.T) {
	buf := Append(nil, []byte("precious bytes"))
	buf[2] ^= 0x01
	src := &memSource{data: buf}
	src.showAll()

	r := NewReader(src, 0)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestImplausibleLength(t *testing.T) {
	// Valid length checksum over an absurd length must still be rejected.
	var buf []byte
	var lenbuf [8]byte
	binary.LittleEndian.PutUint64(lenbuf[:], uint64(MaxPayloadLen)+1)
	buf = append(buf, lenbuf[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, MaskedCRC(lenbuf[:]))
	src := &memSource{data: buf}
	src.showAll()

	r := NewReader(src, 0)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestTrailingIncompleteThenComplete(t *testing.T) {
	first := []byte("complete record")
	second := []byte("still being written")
	buf := Append(nil, first)
	firstLen := int64(len(buf))
	buf = Append(buf, second)

	// Everything up to the middle of the second payload has arrived.
	src := &memSource{data: buf, visible: firstLen + headerSize + 5}
	r := NewReader(src, 0)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, first, rec.Payload)
	assert.Equal(t, int64(0), rec.Offset)

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, firstLen, r.Offset())

	// The writer finishes the frame; the same offset now yields the record.
	src.showAll()
	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, second, rec.Payload)
	assert.Equal(t, firstLen, rec.Offset)
}

func TestEmptyFile(t *testing.T) {
	r := NewReader(&memSource{}, 0)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestSourceError(t *testing.T) {
	r := NewReader(&errSource{}, 0)
	_, err := r.Next()
	assert.False(t, errors.Is(err, ErrIncomplete))
	assert.False(t, errors.Is(err, ErrChecksum))
}

type errSource struct{}

func (errSource) Size() (int64, error)                { return 0, errors.New("gone") }
func (errSource) ReadAt(p []byte, off int64) (int, error) { return 0, errors.New("gone") }

func TestFrameLen(t *testing.T) {
	payload := []byte("xyz")
	buf := Append(nil, payload)
	assert.Equal(t, FrameLen(len(payload)), int64(len(buf)))
}
