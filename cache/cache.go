// Package cache bounds the memory spent on decoded image payloads.
//
// The index stores only file offsets for images; pixels are decoded on
// demand through this cache. The budget is a byte budget, not an entry
// count, because image sizes vary wildly across a run. Eviction is by
// recency. Concurrent requests for the same (tag, step) share one decode.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strconv"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/voegtlel/tensorflow-viewer/event"
	"github.com/voegtlel/tensorflow-viewer/index"
	"github.com/voegtlel/tensorflow-viewer/tfrecord"
	"github.com/voegtlel/tensorflow-viewer/utils"
)

var Hits = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "cache",
	Name:      "hits",
})

var Misses = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "cache",
	Name:      "misses",
})

var Evictions = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "cache",
	Name:      "evictions",
})

var Bytes = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "tfviewer",
	Subsystem: "cache",
	Name:      "bytes",
})

var DecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tfviewer",
	Subsystem: "cache",
	Name:      "decode_failures",
})

// ErrDecode wraps any failure to produce pixels for one (tag, step).
// Other entries stay usable; nothing is cached for a failed decode.
var ErrDecode = errors.New("cache: image decode failed")

// Pixels is a decoded image: tightly packed rows, Channels bytes per pixel
// (1 for grayscale, 4 for everything else).
type Pixels struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

func (p *Pixels) SizeBytes() int64 { return int64(len(p.Pix)) }

type entryKey struct {
	tag  string
	step int64
}

// maxEntries is a secondary bound; the byte budget is the real limit.
const maxEntries = 1 << 20

// Cache is the decode cache for one log file. Safe for concurrent use.
type Cache struct {
	log    utils.Logger
	src    tfrecord.ByteSource
	budget int64

	lock  sync.Mutex
	lru   *simplelru.LRU[entryKey, *Pixels]
	bytes int64

	group singleflight.Group
}

func New(src tfrecord.ByteSource, budget int64, log utils.Logger) *Cache {
	c := &Cache{log: log, src: src, budget: budget}
	c.lru, _ = simplelru.NewLRU(maxEntries, func(key entryKey, p *Pixels) {
		c.bytes -= p.SizeBytes()
		Bytes.Set(float64(c.bytes))
		Evictions.Inc()
	})
	return c
}

// GetOrDecode returns the pixels for (tag, step), decoding from the file at
// loc on a miss. Two concurrent callers for the same key trigger exactly
// one decode; the second waits for the first's result.
func (c *Cache) GetOrDecode(tag string, step int64, loc index.Location) (*Pixels, error) {
	c.lock.Lock()
	if p, ok := c.lru.Get(entryKey{tag, step}); ok {
		c.lock.Unlock()
		Hits.Inc()
		return p, nil
	}
	c.lock.Unlock()
	Misses.Inc()

	flight := tag + "\x00" + strconv.FormatInt(step, 10)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		p, err := c.decode(tag, step, loc)
		if err != nil {
			DecodeFailures.Inc()
			return nil, err
		}
		c.store(entryKey{tag, step}, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pixels), nil
}

func (c *Cache) store(key entryKey, p *Pixels) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if old, ok := c.lru.Peek(key); ok {
		c.bytes -= old.SizeBytes()
	}
	c.lru.Add(key, p)
	c.bytes += p.SizeBytes()
	// Evict oldest-first until under budget; the entry just added stays so
	// that a single oversized image is still served.
	for c.bytes > c.budget && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
	Bytes.Set(float64(c.bytes))
}

// decode re-reads the frame at loc, re-decodes the event, and decompresses
// the image bytes of the addressed value.
func (c *Cache) decode(tag string, step int64, loc index.Location) (*Pixels, error) {
	rec, err := tfrecord.NewReader(c.src, loc.Offset).Next()
	if err != nil {
		return nil, fmt.Errorf("%w: tag %q step %d: %v", ErrDecode, tag, step, err)
	}
	ev, err := event.Decode(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: tag %q step %d: %v", ErrDecode, tag, step, err)
	}
	if loc.ValueIndex >= len(ev.Values) {
		return nil, fmt.Errorf("%w: tag %q step %d: value index %d out of range", ErrDecode, tag, step, loc.ValueIndex)
	}
	val := ev.Values[loc.ValueIndex]
	if val.Kind != event.KindImage || val.Image == nil {
		return nil, fmt.Errorf("%w: tag %q step %d: value is %s, not an image", ErrDecode, tag, step, val.Kind)
	}
	img, _, err := image.Decode(bytes.NewReader(val.Image.Encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: tag %q step %d: %v", ErrDecode, tag, step, err)
	}
	return fromImage(img), nil
}

func fromImage(img image.Image) *Pixels {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if g, ok := img.(*image.Gray); ok {
		p := &Pixels{Width: w, Height: h, Channels: 1, Pix: make([]byte, w*h)}
		for y := 0; y < h; y++ {
			copy(p.Pix[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return p
	}
	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Pixels{Width: w, Height: h, Channels: 4, Pix: rgba.Pix}
}
