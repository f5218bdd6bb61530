/*
Package tfrecord reads and writes the record framing of training event files.

# Frame format

Every record in the file is framed as:

	[length: 8 bytes little-endian]
	[masked crc32c of the length field: 4 bytes little-endian]
	[payload: `length` bytes]
	[masked crc32c of the payload: 4 bytes little-endian]

The checksum is CRC32-Castagnoli, masked the same way the writers of these
files mask it: rotate right by 15 bits, add a fixed delta. Masking exists so
that a checksum stored next to the data it covers does not checksum to itself.

# Reading

Reader pulls frames from a ByteSource at a byte offset. Three outcomes:

  - a complete, checksum-valid frame: the payload is returned and the cursor
    advances exactly past the frame;
  - fewer bytes than the full frame are available: ErrIncomplete. This is the
    normal case while tailing a file that is still being written; the cursor
    does not move and the same offset is retried once more bytes arrive;
  - a checksum that is fully present and wrong: ErrChecksum. The cursor
    freezes; following bytes cannot be trusted (frame desynchronization) and
    the reader makes no attempt to guess a new frame boundary.

End of file never implies corruption: ErrChecksum is only ever reported over
bytes that are actually there.
*/
package tfrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	lenSize    = 8
	crcSize    = 4
	headerSize = lenSize + crcSize

	// MaxPayloadLen caps a single record. A declared length above the cap is
	// treated as desynchronization even with a matching length checksum.
	MaxPayloadLen = 1 << 30
)

var (
	// ErrIncomplete means the source does not yet hold the full frame.
	// Not a failure while tailing; retry at the same offset later.
	ErrIncomplete = errors.New("tfrecord: incomplete frame")
	// ErrChecksum means a checksum was present and failed verification.
	ErrChecksum = errors.New("tfrecord: checksum mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// Mask rotates the checksum and adds a delta, matching the framing writers.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// MaskedCRC is the masked CRC32-Castagnoli of data, as stored in a frame.
func MaskedCRC(data []byte) uint32 {
	return Mask(crc32.Checksum(data, castagnoli))
}

// ByteSource is a random-access, possibly growing byte container.
// *os.File satisfies ReadAt; Size is typically a Stat call.
type ByteSource interface {
	ReadAt(p []byte, off int64) (n int, err error)
	Size() (int64, error)
}

// Record is one validated frame: the payload plus the file offset of the
// start of its frame. The payload is only handed out if both checksums
// verified; no partially trusted record ever leaves this package.
type Record struct {
	Offset  int64
	Payload []byte
}

// Reader is a frame cursor over a ByteSource. Recreating a Reader at a
// different offset is cheap; it holds no buffered state between frames.
type Reader struct {
	src ByteSource
	off int64
}

func NewReader(src ByteSource, offset int64) *Reader {
	return &Reader{src: src, off: offset}
}

// Offset is the position of the next frame to read, i.e. the end of the
// last successfully consumed frame.
func (r *Reader) Offset() int64 { return r.off }

// SetOffset moves the cursor to an explicitly trusted frame boundary.
func (r *Reader) SetOffset(offset int64) { r.off = offset }

// Next reads the frame at the cursor.
//
// Returns:
//   - the validated record, cursor advanced past the frame;
//   - ErrIncomplete if the full frame is not yet available, cursor unmoved;
//   - ErrChecksum if a present checksum fails, cursor unmoved;
//   - any other error is an I/O failure of the source.
func (r *Reader) Next() (rec Record, err error) {
	size, err := r.src.Size()
	if err != nil {
		return Record{}, err
	}
	if size < r.off+headerSize {
		return Record{}, ErrIncomplete
	}

	var header [headerSize]byte
	if _, err = r.src.ReadAt(header[:], r.off); err != nil {
		return Record{}, err
	}
	length := binary.LittleEndian.Uint64(header[:lenSize])
	lenCRC := binary.LittleEndian.Uint32(header[lenSize:])
	if MaskedCRC(header[:lenSize]) != lenCRC {
		return Record{}, fmt.Errorf("%w: length field at offset %d", ErrChecksum, r.off)
	}
	if length > MaxPayloadLen {
		return Record{}, fmt.Errorf("%w: implausible length %d at offset %d", ErrChecksum, length, r.off)
	}

	total := int64(headerSize) + int64(length) + crcSize
	if size < r.off+total {
		return Record{}, ErrIncomplete
	}

	body := make([]byte, length+crcSize)
	if _, err = r.src.ReadAt(body, r.off+headerSize); err != nil {
		return Record{}, err
	}
	payload := body[:length]
	dataCRC := binary.LittleEndian.Uint32(body[length:])
	if MaskedCRC(payload) != dataCRC {
		return Record{}, fmt.Errorf("%w: payload at offset %d", ErrChecksum, r.off)
	}

	rec = Record{Offset: r.off, Payload: payload}
	r.off += total
	return rec, nil
}

// Append encodes one frame around payload and appends it to dst.
// The reading core is read-only; Append exists for fixtures and tooling.
func Append(dst []byte, payload []byte) []byte {
	var lenbuf [lenSize]byte
	binary.LittleEndian.PutUint64(lenbuf[:], uint64(len(payload)))
	dst = append(dst, lenbuf[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, MaskedCRC(lenbuf[:]))
	dst = append(dst, payload...)
	dst = binary.LittleEndian.AppendUint32(dst, MaskedCRC(payload))
	return dst
}

// FrameLen is the full framed size of a payload of n bytes.
func FrameLen(n int) int64 {
	return int64(headerSize) + int64(n) + crcSize
}
