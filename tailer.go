package tfviewer

import (
	"context"
	"errors"

	"github.com/voegtlel/tensorflow-viewer/event"
	"github.com/voegtlel/tensorflow-viewer/index"
	"github.com/voegtlel/tensorflow-viewer/tfrecord"
	"github.com/voegtlel/tensorflow-viewer/utils"
)

// TailerState is the cursor state over the log file.
//
//	Seeking: positioned at a frame boundary, no pending bytes
//	Reading: mid-frame, waiting for the writer to finish it
//	Stalled: checksum failure; frozen until an explicit Resync
//	Closed:  stopped, accepts no further polls
type TailerState byte

const (
	StateSeeking TailerState = 'S'
	StateReading TailerState = 'R'
	StateStalled TailerState = 'X'
	StateClosed  TailerState = 'C'
)

func (s TailerState) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateReading:
		return "reading"
	case StateStalled:
		return "stalled"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

type PollStatus byte

const (
	// NoChange: nothing new arrived since the last poll.
	NoChange PollStatus = iota
	// NewData: one or more records were absorbed into the index.
	NewData
	// CorruptDetected: a checksum failed; the tailer is stalled at Offset
	// until Resync.
	CorruptDetected
)

// PollResult tells the viewer whether a redraw is worth it.
type PollResult struct {
	Status  PollStatus
	Records int   // records absorbed, set for NewData
	Offset  int64 // failure offset, set for CorruptDetected
}

// Tailer owns the read cursor over a possibly growing file and is the only
// writer into the index. It never loops internally: each Poll performs one
// pass over the currently available bytes and returns, so the caller
// controls scheduling and cancellation by simply not calling again.
type Tailer struct {
	log utils.Logger
	rd  *tfrecord.Reader
	ix  *index.Index

	state     TailerState
	stalledAt int64
}

func NewTailer(src tfrecord.ByteSource, ix *index.Index, log utils.Logger) *Tailer {
	return &Tailer{
		log:   log,
		rd:    tfrecord.NewReader(src, 0),
		ix:    ix,
		state: StateSeeking,
	}
}

func (t *Tailer) State() TailerState { return t.state }

// Offset is the current cursor position (next frame boundary, or the
// frozen position when stalled).
func (t *Tailer) Offset() int64 { return t.rd.Offset() }

// Poll consumes every complete frame currently available. Per-record
// decode failures are logged and skipped; a checksum failure stalls the
// tailer; I/O errors are returned as-is for the caller to retry or treat
// as fatal. ctx is checked between records.
func (t *Tailer) Poll(ctx context.Context) (PollResult, error) {
	switch t.state {
	case StateClosed:
		return PollResult{}, ErrClosed
	case StateStalled:
		// Terminal for automatic progress; only Resync moves the cursor.
		return PollResult{Status: CorruptDetected, Offset: t.stalledAt}, nil
	}

	t.state = StateReading
	absorbed := 0
	for {
		if err := ctx.Err(); err != nil {
			return t.finish(absorbed), err
		}
		rec, err := t.rd.Next()
		switch {
		case err == nil:
			RecordsRead.Inc()
			t.absorb(ctx, rec)
			absorbed++
			t.state = StateSeeking
		case errors.Is(err, tfrecord.ErrIncomplete):
			// Normal while tailing; cursor stays, the caller backs off.
			t.state = StateReading
			return t.finish(absorbed), nil
		case errors.Is(err, tfrecord.ErrChecksum):
			ChecksumFailures.Inc()
			t.state = StateStalled
			t.stalledAt = t.rd.Offset()
			t.log.WarnCtx(ctx, "checksum failure, tailer stalled",
				"offset", t.stalledAt, "error", err)
			return PollResult{Status: CorruptDetected, Offset: t.stalledAt}, nil
		default:
			// I/O failure; position unchanged, caller decides.
			return t.finish(absorbed), err
		}
	}
}

func (t *Tailer) absorb(ctx context.Context, rec tfrecord.Record) {
	ev, err := event.Decode(rec.Payload)
	if err != nil {
		// One bad record must not hide the ones after it.
		DecodeErrors.Inc()
		t.log.WarnCtx(ctx, "malformed record skipped",
			"offset", rec.Offset, "error", err)
	} else {
		if ev.Skipped > 0 {
			t.log.DebugCtx(ctx, "unsupported value kinds skipped",
				"offset", rec.Offset, "step", ev.Step, "count", ev.Skipped)
		}
		t.ix.Absorb(ev, rec.Offset)
	}
	t.ix.SetHighWater(t.rd.Offset())
}

func (t *Tailer) finish(absorbed int) PollResult {
	if absorbed == 0 {
		return PollResult{Status: NoChange}
	}
	return PollResult{Status: NewData, Records: absorbed}
}

// Resync moves the cursor to an explicitly trusted offset, the only way
// out of Stalled. Guessing a frame boundary risks silently skipping valid
// records, so the decision is left to the operator.
func (t *Tailer) Resync(offset int64) error {
	if t.state == StateClosed {
		return ErrClosed
	}
	t.rd.SetOffset(offset)
	t.ix.SetHighWater(offset)
	t.state = StateSeeking
	t.stalledAt = 0
	return nil
}

// Close stops the tailer permanently.
func (t *Tailer) Close() {
	t.state = StateClosed
}
