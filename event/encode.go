package event

import (
	"encoding/binary"
	"math"
)

// Append encodes ev in the same wire subset Decode reads and appends it to
// dst. The reading core never writes event files; this exists for fixtures
// and tooling, and keeps the codec testable as a round trip.
func Append(dst []byte, ev Event) []byte {
	dst = appendKey(dst, fEventWallTime, wtI64)
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(ev.WallTime))
	dst = appendKey(dst, fEventStep, wtVarint)
	dst = binary.AppendUvarint(dst, uint64(ev.Step))
	if len(ev.Values) > 0 {
		var summary []byte
		for _, v := range ev.Values {
			summary = appendKey(summary, fSummaryValue, wtLen)
			summary = appendBytes(summary, encodeValue(v))
		}
		dst = appendKey(dst, fEventSummary, wtLen)
		dst = appendBytes(dst, summary)
	}
	return dst
}

func encodeValue(v Value) []byte {
	var body []byte
	body = appendKey(body, fValueTag, wtLen)
	body = appendBytes(body, []byte(v.Tag))
	switch v.Kind {
	case KindScalar:
		body = appendKey(body, fValueSimple, wtI32)
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(float32(v.Scalar)))
	case KindImage:
		var img []byte
		img = appendKey(img, fImageHeight, wtVarint)
		img = binary.AppendUvarint(img, uint64(v.Image.Height))
		img = appendKey(img, fImageWidth, wtVarint)
		img = binary.AppendUvarint(img, uint64(v.Image.Width))
		img = appendKey(img, fImageChannels, wtVarint)
		img = binary.AppendUvarint(img, uint64(v.Image.Channels))
		img = appendKey(img, fImageEncoded, wtLen)
		img = appendBytes(img, v.Image.Encoded)
		body = appendKey(body, fValueImage, wtLen)
		body = appendBytes(body, img)
	}
	return body
}

func appendKey(dst []byte, field, wt int) []byte {
	return binary.AppendUvarint(dst, uint64(field)<<3|uint64(wt))
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}
