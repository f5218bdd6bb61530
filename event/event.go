/*
Package event decodes record payloads into structured training events.

A payload is a protobuf wire-format message of the shape training writers
emit: a wall-clock timestamp, a step number, and a summary holding one or
more tagged values. Only two value kinds are understood, scalars and encoded
images; any other kind is skipped and counted, never fatal, so files written
by newer tooling stay readable.

The wire subset is fixed by the file format, not by this package:

	Event:   wall_time=1 (double), step=2 (varint), summary=5 (message)
	Summary: value=1 (repeated message)
	Value:   tag=1 (string), simple_value=2 (float), image=4 (message)
	Image:   height=1, width=2, colorspace=3 (varints),
	         encoded_image_string=4 (bytes)
*/
package event

import (
	"errors"
	"fmt"
)

// ErrMalformed means the payload's inner encoding is broken (truncated
// field, impossible wire type). The caller skips the record and moves on;
// one bad record must not hide all the good ones after it.
var ErrMalformed = errors.New("event: malformed payload")

// Kind of a value. The set is closed: every consumer switches over it
// exhaustively, so adding a kind is a compile-visible change.
type Kind byte

const (
	KindScalar Kind = 'S'
	KindImage  Kind = 'I'
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindImage:
		return "image"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// Image is an encoded image value. Pixels are not decoded here; Encoded
// carries the compressed bytes (PNG or JPEG) and the dimensions come from
// the summary metadata, so a viewer can lay out before decoding.
type Image struct {
	Width    int
	Height   int
	Channels int // colorspace: 1 grayscale, 3 RGB, 4 RGBA
	Encoded  []byte
}

// Value is a closed tagged variant over {scalar, image}.
// Exactly one of Scalar/Image is meaningful, selected by Kind.
type Value struct {
	Tag    string
	Kind   Kind
	Scalar float64
	Image  *Image
}

// Event is one decoded record: a timestamp, a step, and the values the
// record carried. Skipped counts summary entries of unsupported kinds.
type Event struct {
	WallTime float64
	Step     int64
	Values   []Value
	Skipped  int
}
