package event

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScalar(t *testing.T) {
	payload := Append(nil, Event{
		WallTime: 1700000000.25,
		Step:     42,
		Values:   []Value{{Tag: "train/loss", Kind: KindScalar, Scalar: 0.5}},
	})

	ev, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 1700000000.25, ev.WallTime)
	assert.Equal(t, int64(42), ev.Step)
	require.Len(t, ev.Values, 1)
	assert.Equal(t, "train/loss", ev.Values[0].Tag)
	assert.Equal(t, KindScalar, ev.Values[0].Kind)
	assert.Equal(t, 0.5, ev.Values[0].Scalar)
	assert.Zero(t, ev.Skipped)
}

func TestDecodeImage(t *testing.T) {
	encoded := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	payload := Append(nil, Event{
		Step: 7,
		Values: []Value{{
			Tag:   "sample",
			Kind:  KindImage,
			Image: &Image{Width: 64, Height: 48, Channels: 3, Encoded: encoded},
		}},
	})

	ev, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, ev.Values, 1)
	v := ev.Values[0]
	assert.Equal(t, KindImage, v.Kind)
	require.NotNil(t, v.Image)
	assert.Equal(t, 64, v.Image.Width)
	assert.Equal(t, 48, v.Image.Height)
	assert.Equal(t, 3, v.Image.Channels)
	assert.Equal(t, encoded, v.Image.Encoded)
}

func TestDecodeMultiValue(t *testing.T) {
	payload := Append(nil, Event{
		Step: 3,
		Values: []Value{
			{Tag: "loss", Kind: KindScalar, Scalar: 0.25},
			{Tag: "acc", Kind: KindScalar, Scalar: 0.75},
			{Tag: "img", Kind: KindImage, Image: &Image{Width: 2, Height: 2, Channels: 1, Encoded: []byte{9}}},
		},
	})

	ev, err := Decode(payload)
	require.NoError(t, err)
	require.Len(t, ev.Values, 3)
	assert.Equal(t, "loss", ev.Values[0].Tag)
	assert.Equal(t, "acc", ev.Values[1].Tag)
	assert.Equal(t, KindImage, ev.Values[2].Kind)
}

// Scalars are float32 on the wire; decoding widens, so values that are not
// exactly representable come back as the widened float32.
func TestDecodeScalarWidening(t *testing.T) {
	payload := Append(nil, Event{
		Values: []Value{{Tag: "loss", Kind: KindScalar, Scalar: 0.9}},
	})
	ev, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.9)), ev.Values[0].Scalar)
}

// A summary value of an unsupported kind (here a histogram, field 5) is
// skipped and counted, never an error.
func TestDecodeUnknownKindSkipped(t *testing.T) {
	var val []byte
	val = appendKey(val, fValueTag, wtLen)
	val = appendBytes(val, []byte("histo"))
	val = appendKey(val, 5, wtLen) // Value.histo, not a supported kind
	val = appendBytes(val, []byte{0x09, 0, 0, 0, 0, 0, 0, 0, 0})

	var summary []byte
	summary = appendKey(summary, fSummaryValue, wtLen)
	summary = appendBytes(summary, val)
	summary = appendKey(summary, fSummaryValue, wtLen)
	summary = appendBytes(summary, encodeValue(Value{Tag: "ok", Kind: KindScalar, Scalar: 1}))

	var payload []byte
	payload = appendKey(payload, fEventStep, wtVarint)
	payload = binary.AppendUvarint(payload, 11)
	payload = appendKey(payload, fEventSummary, wtLen)
	payload = appendBytes(payload, summary)

	ev, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Skipped)
	require.Len(t, ev.Values, 1)
	assert.Equal(t, "ok", ev.Values[0].Tag)
}

func TestDecodeUnknownTopLevelFieldSkipped(t *testing.T) {
	payload := Append(nil, Event{Step: 5})
	payload = appendKey(payload, 9, wtLen) // some future Event field
	payload = appendBytes(payload, []byte("whatever"))

	ev, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ev.Step)
}

func TestDecodeTruncated(t *testing.T) {
	payload := Append(nil, Event{
		Step:   1,
		Values: []Value{{Tag: "loss", Kind: KindScalar, Scalar: 0.5}},
	})
	for cut := 1; cut < 6; cut++ {
		_, err := Decode(payload[:len(payload)-cut])
		assert.ErrorIs(t, err, ErrMalformed, "cut %d", cut)
	}
}

func TestDecodeBadWireType(t *testing.T) {
	var payload []byte
	payload = binary.AppendUvarint(payload, uint64(3)<<3|3) // group start, unsupported
	_, err := Decode(payload)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEmptyPayload(t *testing.T) {
	ev, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, ev.Values)
}
