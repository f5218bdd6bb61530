package tfviewer

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"
	"github.com/google/uuid"

	"github.com/voegtlel/tensorflow-viewer/cache"
	"github.com/voegtlel/tensorflow-viewer/index"
	"github.com/voegtlel/tensorflow-viewer/utils"
)

// fileSource adapts an open file to the byte source the frame reader
// expects. Size is a fresh Stat so a growing file is observed growing.
type fileSource struct {
	f *os.File
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Size() (int64, error) {
	st, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// fingerprintLen bounds how many leading bytes identify the file.
const fingerprintLen = 4096

// Session owns everything for one open log file: the tailer (sole index
// writer), the index, and the decode cache. There is no process-wide
// state; a viewer holds one Session per file and passes it around
// explicitly.
type Session struct {
	id   uuid.UUID
	ctx  context.Context
	log  utils.Logger
	path string
	f    *os.File
	src  *fileSource

	ix     *index.Index
	cache  *cache.Cache
	tailer *Tailer

	opts   Options
	closed atomic.Bool

	// Identity of the already-consumed file prefix; a mismatch on poll
	// means the file was replaced under us.
	printLen  int64
	printHash uint64
}

// Open opens a log file for tailing. The index starts empty; the first
// Poll absorbs everything already in the file.
func Open(path string, opts Options) (*Session, error) {
	opts.SetDefaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s := &Session{
		id:   uuid.New(),
		log:  opts.Logger,
		path: path,
		f:    f,
		src:  &fileSource{f: f},
		opts: opts,
	}
	s.ctx = utils.WithDefaultArgs(context.Background(), "session", s.id.String(), "path", path)
	s.ix = index.New(opts.Logger)
	s.cache = cache.New(s.src, opts.CacheBudget, opts.Logger)
	s.tailer = NewTailer(s.src, s.ix, opts.Logger)
	s.log.InfoCtx(s.ctx, "log file opened")
	return s, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

// Poll runs one tailing pass. The statuses mirror what a viewer needs to
// decide on a redraw; errors wrapping ErrUnavailable are fatal for the
// session, other I/O errors may be retried by polling again.
func (s *Session) Poll(ctx context.Context) (PollResult, error) {
	if s.closed.Load() {
		return PollResult{}, ErrClosed
	}
	if err := s.validate(); err != nil {
		return PollResult{}, err
	}
	res, err := s.tailer.Poll(ctx)
	if err == nil && res.Status == NewData {
		s.updateFingerprint()
	}
	return res, err
}

// PollWait polls until new data arrives (or corruption is detected), the
// timeout elapses, or ctx is cancelled. The wait is bounded; the caller's
// loop stays in control.
func (s *Session) PollWait(ctx context.Context, timeout time.Duration) (PollResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		res, err := s.Poll(ctx)
		if err != nil || res.Status != NoChange {
			return res, err
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return PollResult{Status: NoChange}, nil
		}
		cadence := s.opts.PollCadence
		if cadence > remain {
			cadence = remain
		}
		select {
		case <-ctx.Done():
			return PollResult{Status: NoChange}, ctx.Err()
		case <-time.After(cadence):
		}
	}
}

// validate detects the file vanishing, shrinking below the consumed
// prefix, or being replaced by different content. All are fatal: the
// index no longer describes the bytes on disk.
func (s *Session) validate() error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	size, err := s.src.Size()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if hw := s.ix.HighWater(); size < hw {
		return fmt.Errorf("%w: file truncated to %d bytes below indexed %d", ErrUnavailable, size, hw)
	}
	if s.printLen > 0 {
		h, err := s.prefixHash(s.printLen)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if h != s.printHash {
			return fmt.Errorf("%w: file content replaced", ErrUnavailable)
		}
	}
	return nil
}

func (s *Session) updateFingerprint() {
	if s.printLen > 0 {
		return
	}
	n := s.ix.HighWater()
	if n > fingerprintLen {
		n = fingerprintLen
	}
	if n == 0 {
		return
	}
	h, err := s.prefixHash(n)
	if err != nil {
		return
	}
	s.printLen, s.printHash = n, h
}

func (s *Session) prefixHash(n int64) (uint64, error) {
	buf := make([]byte, n)
	if _, err := s.src.ReadAt(buf, 0); err != nil && err != io.EOF {
		return 0, err
	}
	return xxhash.Sum64(buf), nil
}

// Resync trusts the given offset as a frame boundary and resumes tailing
// there. Operator action after CorruptDetected.
func (s *Session) Resync(offset int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.log.WarnCtx(s.ctx, "resynchronizing", "offset", offset)
	return s.tailer.Resync(offset)
}

func (s *Session) State() TailerState { return s.tailer.State() }

// Tags is a snapshot of the known tags; it only grows over the session.
func (s *Session) Tags() []index.TagInfo { return s.ix.Tags() }

// Steps yields the indexed steps of a tag in ascending order.
func (s *Session) Steps(tag string) iter.Seq[int64] { return s.ix.Steps(tag) }

// Nearest returns the closest indexed step <= step for the tag.
func (s *Session) Nearest(tag string, step int64) (int64, bool) {
	actual, _, ok := s.ix.Nearest(tag, step)
	return actual, ok
}

// Scalar returns the inline scalar at exactly (tag, step); O(1) from the
// index, never touches the file.
func (s *Session) Scalar(tag string, step int64) (float64, bool) {
	return s.ix.Scalar(tag, step)
}

// Series returns the aligned (steps, values) of a scalar tag.
func (s *Session) Series(tag string) ([]int64, []float64, bool) {
	return s.ix.Series(tag)
}

// Image decodes the image at (tag, step) through the cache.
func (s *Session) Image(tag string, step int64) (*cache.Pixels, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	loc, ok := s.ix.Location(tag, step)
	if !ok {
		return nil, fmt.Errorf("no value for tag %q at step %d", tag, step)
	}
	return s.cache.GetOrDecode(tag, step, loc)
}

// BytesIndexed is the consumed byte count; with BytesTotal it gives the
// viewer a load progress ratio.
func (s *Session) BytesIndexed() int64 { return s.ix.HighWater() }

func (s *Session) BytesTotal() (int64, error) { return s.src.Size() }

func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.tailer.Close()
	s.log.InfoCtx(s.ctx, "log file closed")
	return s.f.Close()
}
