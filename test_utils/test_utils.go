// Package test_utils holds fixture builders shared by package tests.
package test_utils

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voegtlel/tensorflow-viewer/event"
	"github.com/voegtlel/tensorflow-viewer/tfrecord"
)

// ScalarEvent builds an encoded event payload with a single scalar value.
func ScalarEvent(wallTime float64, step int64, tag string, val float64) []byte {
	return event.Append(nil, event.Event{
		WallTime: wallTime,
		Step:     step,
		Values:   []event.Value{{Tag: tag, Kind: event.KindScalar, Scalar: val}},
	})
}

// ImageEvent builds an encoded event payload with a single image value.
func ImageEvent(wallTime float64, step int64, tag string, img *event.Image) []byte {
	return event.Append(nil, event.Event{
		WallTime: wallTime,
		Step:     step,
		Values:   []event.Value{{Tag: tag, Kind: event.KindImage, Image: img}},
	})
}

// Frames frames each payload as a record and concatenates them.
func Frames(payloads ...[]byte) []byte {
	var buf []byte
	for _, p := range payloads {
		buf = tfrecord.Append(buf, p)
	}
	return buf
}

// WriteLogFile writes data to a fresh file under t.TempDir().
func WriteLogFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.out")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// AppendToFile appends more bytes to an existing log file, simulating the
// training process writing while the file is being tailed.
func AppendToFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// PNG returns a small encoded PNG of the given dimensions.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 37), G: uint8(y * 59), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// RecordingLogger captures warnings and errors for assertions.
type RecordingLogger struct {
	lock  sync.Mutex
	warns []string
	errs  []string
}

func (l *RecordingLogger) Warnings() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.warns...)
}

func (l *RecordingLogger) Errors() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.errs...)
}

func (l *RecordingLogger) Debug(msg string, args ...any) {}
func (l *RecordingLogger) Info(msg string, args ...any)  {}

func (l *RecordingLogger) Warn(msg string, args ...any) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *RecordingLogger) Error(msg string, args ...any) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.errs = append(l.errs, msg)
}

func (l *RecordingLogger) DebugCtx(ctx context.Context, msg string, args ...any) {}
func (l *RecordingLogger) InfoCtx(ctx context.Context, msg string, args ...any)  {}

func (l *RecordingLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *RecordingLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.Error(msg, args...)
}
