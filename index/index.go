// Package index keeps the in-memory mapping from (tag, step) to file
// location for one log file. It is filled by a single producer (the tailer)
// and queried concurrently by presentation code; readers never block the
// producer and may observe a newer index between two calls, which is the
// documented contract, not a race to fix.
package index

import (
	"iter"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/voegtlel/tensorflow-viewer/event"
	"github.com/voegtlel/tensorflow-viewer/utils"
)

var AbsorbedValues = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "index",
	Name:      "absorbed_values",
}, []string{"kind"})

var ValueConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "index",
	Name:      "value_conflicts",
}, []string{"tag"})

var KnownTags = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "tfviewer",
	Subsystem: "index",
	Name:      "known_tags",
})

// Location points back into the log file: the frame offset of the record
// and the position of the value within that record's value list.
type Location struct {
	Offset     int64
	ValueIndex int
}

// TagInfo is the queryable identity of a tag. Kind is fixed at first
// observation for the lifetime of the index.
type TagInfo struct {
	Name string
	Kind event.Kind
}

type stepEntry struct {
	step   int64
	loc    Location
	scalar float64
}

// Tag is one named series. steps stays sorted by step with no duplicates;
// re-logging a step overwrites its entry (training code legitimately does
// that on restart).
type Tag struct {
	name string
	kind event.Kind

	lock  sync.RWMutex
	steps []stepEntry
}

func (t *Tag) Name() string     { return t.name }
func (t *Tag) Kind() event.Kind { return t.kind }

func (t *Tag) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.steps)
}

func cmpStep(e stepEntry, step int64) int {
	switch {
	case e.step < step:
		return -1
	case e.step > step:
		return 1
	default:
		return 0
	}
}

// insert keeps ascending-step order; steps arrive out of order because
// asynchronous writers interleave tags. Last write wins on a duplicate.
func (t *Tag) insert(e stepEntry) {
	t.lock.Lock()
	defer t.lock.Unlock()
	pos, found := slices.BinarySearchFunc(t.steps, e.step, cmpStep)
	if found {
		t.steps[pos] = e
		return
	}
	t.steps = slices.Insert(t.steps, pos, e)
}

func (t *Tag) lookup(step int64) (stepEntry, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	pos, found := slices.BinarySearchFunc(t.steps, step, cmpStep)
	if !found {
		return stepEntry{}, false
	}
	return t.steps[pos], true
}

// Steps yields the tag's steps in ascending order. The sequence is lazy and
// restartable; it walks by position, so steps absorbed mid-iteration may or
// may not be seen, per the index's snapshot contract.
func (t *Tag) Steps() iter.Seq[int64] {
	return t.StepsFrom(math.MinInt64)
}

// StepsFrom starts at the first indexed step >= from, found by binary
// search.
func (t *Tag) StepsFrom(from int64) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		t.lock.RLock()
		i, _ := slices.BinarySearchFunc(t.steps, from, cmpStep)
		t.lock.RUnlock()
		for ; ; i++ {
			t.lock.RLock()
			if i >= len(t.steps) {
				t.lock.RUnlock()
				return
			}
			s := t.steps[i].step
			t.lock.RUnlock()
			if !yield(s) {
				return
			}
		}
	}
}

// Index is the per-file log index. Single writer, many readers.
type Index struct {
	log  utils.Logger
	tags *xsync.MapOf[string, *Tag]

	// hw is the last fully consumed byte offset; the tailer resumes there.
	hw atomic.Int64

	orderLock sync.RWMutex
	order     []*Tag // tags in first-observation order
}

func New(log utils.Logger) *Index {
	return &Index{
		log:  log,
		tags: xsync.NewMapOf[string, *Tag](),
	}
}

// Absorb records every value of ev into the index. off is the file offset
// of the record the event was decoded from. Returns the number of values
// absorbed; values whose tag already exists with a different kind are
// dropped with a warning (the tag keeps its original kind).
func (ix *Index) Absorb(ev event.Event, off int64) (absorbed int) {
	for i, v := range ev.Values {
		tag, ok := ix.tags.Load(v.Tag)
		if !ok {
			tag = &Tag{name: v.Tag, kind: v.Kind}
			ix.tags.Store(v.Tag, tag)
			ix.orderLock.Lock()
			ix.order = append(ix.order, tag)
			ix.orderLock.Unlock()
			KnownTags.Inc()
		}
		if tag.kind != v.Kind {
			ValueConflicts.WithLabelValues(v.Tag).Inc()
			ix.log.Warn("tag kind conflict, value dropped",
				"tag", v.Tag, "step", ev.Step, "offset", off,
				"have", tag.kind.String(), "got", v.Kind.String())
			continue
		}
		e := stepEntry{step: ev.Step, loc: Location{Offset: off, ValueIndex: i}}
		if v.Kind == event.KindScalar {
			e.scalar = v.Scalar
		}
		tag.insert(e)
		AbsorbedValues.WithLabelValues(v.Kind.String()).Inc()
		absorbed++
	}
	return absorbed
}

// HighWater is the last fully consumed byte offset of the log file.
func (ix *Index) HighWater() int64 { return ix.hw.Load() }

// SetHighWater is called by the tailer after a frame is absorbed.
func (ix *Index) SetHighWater(off int64) { ix.hw.Store(off) }

// Tag returns the tag by name, or nil.
func (ix *Index) Tag(name string) *Tag {
	t, _ := ix.tags.Load(name)
	return t
}

// Tags is a snapshot of the known tags in first-observation order.
// The set only grows over a session.
func (ix *Index) Tags() []TagInfo {
	ix.orderLock.RLock()
	defer ix.orderLock.RUnlock()
	infos := make([]TagInfo, len(ix.order))
	for i, t := range ix.order {
		infos[i] = TagInfo{Name: t.name, Kind: t.kind}
	}
	return infos
}

// Steps yields the steps of the named tag; an unknown tag yields nothing.
func (ix *Index) Steps(name string) iter.Seq[int64] {
	t := ix.Tag(name)
	if t == nil {
		return func(func(int64) bool) {}
	}
	return t.Steps()
}

// Nearest returns the location of the greatest indexed step <= step for the
// tag, for cursor-following in a live view. ok is false if the tag has no
// step at or below the requested one.
func (ix *Index) Nearest(name string, step int64) (actual int64, loc Location, ok bool) {
	t := ix.Tag(name)
	if t == nil {
		return 0, Location{}, false
	}
	t.lock.RLock()
	defer t.lock.RUnlock()
	pos, found := slices.BinarySearchFunc(t.steps, step, cmpStep)
	if !found {
		pos--
	}
	if pos < 0 {
		return 0, Location{}, false
	}
	e := t.steps[pos]
	return e.step, e.loc, true
}

// Scalar returns the inline scalar value at exactly (name, step).
// Scalars are stored during absorb, so this never touches the file.
func (ix *Index) Scalar(name string, step int64) (float64, bool) {
	t := ix.Tag(name)
	if t == nil || t.kind != event.KindScalar {
		return 0, false
	}
	e, ok := t.lookup(step)
	if !ok {
		return 0, false
	}
	return e.scalar, true
}

// Location returns the file location of (name, step), for lazy decode.
func (ix *Index) Location(name string, step int64) (Location, bool) {
	t := ix.Tag(name)
	if t == nil {
		return Location{}, false
	}
	e, ok := t.lookup(step)
	return e.loc, ok
}

// Series copies out the aligned (steps, values) slices of a scalar tag,
// the shape chart consumers want.
func (ix *Index) Series(name string) (steps []int64, values []float64, ok bool) {
	t := ix.Tag(name)
	if t == nil || t.kind != event.KindScalar {
		return nil, nil, false
	}
	t.lock.RLock()
	defer t.lock.RUnlock()
	steps = make([]int64, len(t.steps))
	values = make([]float64, len(t.steps))
	for i, e := range t.steps {
		steps[i] = e.step
		values[i] = e.scalar
	}
	return steps, values, true
}
