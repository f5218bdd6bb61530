package tfviewer_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tfviewer "github.com/voegtlel/tensorflow-viewer"
	"github.com/voegtlel/tensorflow-viewer/index"
	"github.com/voegtlel/tensorflow-viewer/test_utils"
	"github.com/voegtlel/tensorflow-viewer/tfrecord"
)

// growingSource is an in-memory log file whose visible size the test
// advances, simulating a concurrent writer.
type growingSource struct {
	data    []byte
	visible int64
}

func (g *growingSource) Size() (int64, error) { return g.visible, nil }

func (g *growingSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= g.visible {
		return 0, io.EOF
	}
	n := copy(p, g.data[off:g.visible])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (g *growingSource) showAll() { g.visible = int64(len(g.data)) }

func newTailer(data []byte) (*tfviewer.Tailer, *index.Index, *growingSource, *test_utils.RecordingLogger) {
	log := &test_utils.RecordingLogger{}
	src := &growingSource{data: data}
	src.showAll()
	ix := index.New(log)
	return tfviewer.NewTailer(src, ix, log), ix, src, log
}

func lossLog() []byte {
	return test_utils.Frames(
		test_utils.ScalarEvent(1000, 0, "loss", 0.9),
		test_utils.ScalarEvent(1001, 1, "loss", 0.5),
		test_utils.ScalarEvent(1002, 2, "loss", 0.3),
	)
}

func TestPollAbsorbsScalars(t *testing.T) {
	tl, ix, _, _ := newTailer(lossLog())

	res, err := tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NewData, res.Status)
	assert.Equal(t, 3, res.Records)

	var steps []int64
	for s := range ix.Steps("loss") {
		steps = append(steps, s)
	}
	assert.Equal(t, []int64{0, 1, 2}, steps)
	v, ok := ix.Scalar("loss", 1)
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	res, err = tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NoChange, res.Status)
}

func TestPollIncompleteTrailingFrame(t *testing.T) {
	full := lossLog()
	firstTwo := int64(len(test_utils.Frames(
		test_utils.ScalarEvent(1000, 0, "loss", 0.9),
		test_utils.ScalarEvent(1001, 1, "loss", 0.5),
	)))
	tl, ix, src, _ := newTailer(full)
	src.visible = firstTwo + 7 // third frame half-written

	res, err := tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NewData, res.Status)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, tfviewer.StateReading, tl.State())
	assert.Equal(t, firstTwo, tl.Offset(), "cursor must not advance past the incomplete frame")
	assert.Equal(t, firstTwo, ix.HighWater())

	// Writer finishes the frame; same offset now yields the record.
	src.showAll()
	res, err = tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NewData, res.Status)
	assert.Equal(t, 1, res.Records)
	loc, ok := ix.Location("loss", 2)
	require.True(t, ok)
	assert.Equal(t, firstTwo, loc.Offset)
}

func TestPollCorruptionStallsUntilResync(t *testing.T) {
	data := lossLog()
	frame := len(data) / 3
	data[frame+14] ^= 0x40 // payload bit of the second record
	tl, ix, _, log := newTailer(data)

	res, err := tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.CorruptDetected, res.Status)
	assert.Equal(t, int64(frame), res.Offset)
	assert.Equal(t, tfviewer.StateStalled, tl.State())
	assert.NotEmpty(t, log.Warnings())

	// First record made it in before the stall.
	_, ok := ix.Scalar("loss", 0)
	assert.True(t, ok)

	// Stalled is terminal for automatic progress.
	res, err = tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.CorruptDetected, res.Status)
	_, ok = ix.Scalar("loss", 2)
	assert.False(t, ok)

	// Operator points at the third frame; tailing resumes.
	require.NoError(t, tl.Resync(int64(2*frame)))
	res, err = tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NewData, res.Status)
	v, ok := ix.Scalar("loss", 2)
	require.True(t, ok)
	assert.Equal(t, float64(float32(0.3)), v)
}

func TestPollSkipsMalformedRecord(t *testing.T) {
	// Valid frame around a broken payload, then a good record.
	data := test_utils.Frames(
		[]byte{0x1b, 0xff}, // field 3, wire type 3: not decodable
		test_utils.ScalarEvent(1000, 5, "loss", 1.5),
	)
	tl, ix, _, log := newTailer(data)

	res, err := tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NewData, res.Status)
	assert.Equal(t, 2, res.Records)
	require.NotEmpty(t, log.Warnings())

	v, ok := ix.Scalar("loss", 5)
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestPollAfterClose(t *testing.T) {
	tl, _, _, _ := newTailer(lossLog())
	tl.Close()
	_, err := tl.Poll(context.Background())
	assert.ErrorIs(t, err, tfviewer.ErrClosed)
	assert.ErrorIs(t, tl.Resync(0), tfviewer.ErrClosed)
}

func TestPollCancelled(t *testing.T) {
	tl, _, _, _ := newTailer(lossLog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tl.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollEmptySource(t *testing.T) {
	tl, _, _, _ := newTailer(nil)
	res, err := tl.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tfviewer.NoChange, res.Status)
	assert.Equal(t, tfviewer.StateReading, tl.State())
}

// Frame boundary sanity for the tests above: all three records must frame
// to the same length, or the corruption offsets would drift.
func TestFixtureFramesUniform(t *testing.T) {
	data := lossLog()
	one := tfrecord.FrameLen(len(test_utils.ScalarEvent(1000, 0, "loss", 0.9)))
	assert.Equal(t, int64(len(data)), 3*one)
}
