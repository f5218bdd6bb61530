package event

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Protobuf wire types.
const (
	wtVarint = 0
	wtI64    = 1
	wtLen    = 2
	wtI32    = 5
)

// Event fields.
const (
	fEventWallTime = 1
	fEventStep     = 2
	fEventSummary  = 5
)

// Summary fields.
const fSummaryValue = 1

// Summary.Value fields.
const (
	fValueTag    = 1
	fValueSimple = 2
	fValueImage  = 4
)

// Image fields.
const (
	fImageHeight   = 1
	fImageWidth    = 2
	fImageChannels = 3
	fImageEncoded  = 4
)

type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) more() bool { return c.pos < len(c.data) }

func (c *cursor) varint() (uint64, error) {
	v, n := binary.Uvarint(c.data[c.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated varint at %d", ErrMalformed, c.pos)
	}
	c.pos += n
	return v, nil
}

func (c *cursor) key() (field int, wt int, err error) {
	k, err := c.varint()
	if err != nil {
		return 0, 0, err
	}
	return int(k >> 3), int(k & 7), nil
}

func (c *cursor) fixed64() (uint64, error) {
	if c.pos+8 > len(c.data) {
		return 0, fmt.Errorf("%w: truncated fixed64 at %d", ErrMalformed, c.pos)
	}
	v := binary.LittleEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) fixed32() (uint32, error) {
	if c.pos+4 > len(c.data) {
		return 0, fmt.Errorf("%w: truncated fixed32 at %d", ErrMalformed, c.pos)
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) bytes() ([]byte, error) {
	l, err := c.varint()
	if err != nil {
		return nil, err
	}
	if uint64(len(c.data)-c.pos) < l {
		return nil, fmt.Errorf("%w: declared %d bytes, %d left", ErrMalformed, l, len(c.data)-c.pos)
	}
	b := c.data[c.pos : c.pos+int(l)]
	c.pos += int(l)
	return b, nil
}

func (c *cursor) skip(wt int) error {
	switch wt {
	case wtVarint:
		_, err := c.varint()
		return err
	case wtI64:
		_, err := c.fixed64()
		return err
	case wtLen:
		_, err := c.bytes()
		return err
	case wtI32:
		_, err := c.fixed32()
		return err
	default:
		return fmt.Errorf("%w: wire type %d", ErrMalformed, wt)
	}
}

// Decode parses one record payload into an Event.
// Unknown top-level and summary fields are skipped silently; summary values
// of unsupported kinds are skipped and counted in Event.Skipped.
func Decode(payload []byte) (ev Event, err error) {
	c := &cursor{data: payload}
	for c.more() {
		field, wt, err := c.key()
		if err != nil {
			return ev, err
		}
		switch {
		case field == fEventWallTime && wt == wtI64:
			bits, err := c.fixed64()
			if err != nil {
				return ev, err
			}
			ev.WallTime = math.Float64frombits(bits)
		case field == fEventStep && wt == wtVarint:
			v, err := c.varint()
			if err != nil {
				return ev, err
			}
			ev.Step = int64(v)
		case field == fEventSummary && wt == wtLen:
			body, err := c.bytes()
			if err != nil {
				return ev, err
			}
			if err = decodeSummary(body, &ev); err != nil {
				return ev, err
			}
		default:
			if err := c.skip(wt); err != nil {
				return ev, err
			}
		}
	}
	return ev, nil
}

func decodeSummary(body []byte, ev *Event) error {
	c := &cursor{data: body}
	for c.more() {
		field, wt, err := c.key()
		if err != nil {
			return err
		}
		if field == fSummaryValue && wt == wtLen {
			vbody, err := c.bytes()
			if err != nil {
				return err
			}
			val, ok, err := decodeValue(vbody)
			if err != nil {
				return err
			}
			if ok {
				ev.Values = append(ev.Values, val)
			} else {
				ev.Skipped++
			}
		} else if err := c.skip(wt); err != nil {
			return err
		}
	}
	return nil
}

// decodeValue returns ok=false for a value of an unsupported kind
// (histogram, audio, tensor, ...); that is forward compatibility,
// not an error.
func decodeValue(body []byte) (val Value, ok bool, err error) {
	c := &cursor{data: body}
	for c.more() {
		field, wt, err := c.key()
		if err != nil {
			return val, false, err
		}
		switch {
		case field == fValueTag && wt == wtLen:
			b, err := c.bytes()
			if err != nil {
				return val, false, err
			}
			val.Tag = string(b)
		case field == fValueSimple && wt == wtI32:
			bits, err := c.fixed32()
			if err != nil {
				return val, false, err
			}
			val.Kind = KindScalar
			val.Scalar = float64(math.Float32frombits(bits))
		case field == fValueImage && wt == wtLen:
			b, err := c.bytes()
			if err != nil {
				return val, false, err
			}
			img, err := decodeImage(b)
			if err != nil {
				return val, false, err
			}
			val.Kind = KindImage
			val.Image = img
		default:
			if err := c.skip(wt); err != nil {
				return val, false, err
			}
		}
	}
	return val, val.Kind != 0, nil
}

func decodeImage(body []byte) (*Image, error) {
	c := &cursor{data: body}
	img := &Image{}
	for c.more() {
		field, wt, err := c.key()
		if err != nil {
			return nil, err
		}
		switch {
		case field == fImageHeight && wt == wtVarint:
			v, err := c.varint()
			if err != nil {
				return nil, err
			}
			img.Height = int(v)
		case field == fImageWidth && wt == wtVarint:
			v, err := c.varint()
			if err != nil {
				return nil, err
			}
			img.Width = int(v)
		case field == fImageChannels && wt == wtVarint:
			v, err := c.varint()
			if err != nil {
				return nil, err
			}
			img.Channels = int(v)
		case field == fImageEncoded && wt == wtLen:
			b, err := c.bytes()
			if err != nil {
				return nil, err
			}
			img.Encoded = b
		default:
			if err := c.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return img, nil
}
