// Package tfviewer reads training event log files: append-only containers
// of length-prefixed, checksummed records holding scalar and image
// summaries keyed by step and tag. The file may still be growing while it
// is read; a Session tails it incrementally, indexes every (tag, step)
// pair for random access, and decodes image payloads lazily through a
// bounded cache.
//
// One Session per log file. The viewer layer polls the session for new
// data and queries tags, steps, scalars and images; everything here is
// read-only with respect to the log file.
package tfviewer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voegtlel/tensorflow-viewer/cache"
	"github.com/voegtlel/tensorflow-viewer/index"
	"github.com/voegtlel/tensorflow-viewer/utils"
)

var (
	// ErrClosed means the session was closed; it accepts no further calls.
	ErrClosed = errors.New("tfviewer: session closed")
	// ErrUnavailable means the log file vanished, was truncated, or was
	// replaced by a different file. Fatal for the session.
	ErrUnavailable = errors.New("tfviewer: log unavailable")
)

var RecordsRead = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "tailer",
	Name:      "records_read",
})

var ChecksumFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "tailer",
	Name:      "checksum_failures",
})

var DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "tailer",
	Name:      "decode_errors",
})

// Collectors returns every metric of the library for registration by the
// hosting application.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RecordsRead, ChecksumFailures, DecodeErrors,
		index.AbsorbedValues, index.ValueConflicts, index.KnownTags,
		cache.Hits, cache.Misses, cache.Evictions, cache.Bytes, cache.DecodeFailures,
	}
}

type Options struct {
	// CacheBudget bounds the bytes of decoded image pixels held in memory.
	CacheBudget int64
	// PollCadence is the re-check interval of PollWait.
	PollCadence time.Duration
	Logger      utils.Logger
}

func (o *Options) SetDefaults() {
	if o.CacheBudget == 0 {
		o.CacheBudget = 64 << 20
	}
	if o.PollCadence == 0 {
		o.PollCadence = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
}
