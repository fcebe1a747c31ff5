package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Capture records every log line emitted while it is installed. Tests
// assert on it by level, message and attribute.
type Capture struct {
	mu      sync.Mutex
	records []slog.Record

	prev      *slog.Logger
	prevLevel slog.Level
}

// CaptureForTest swaps the default logger for a capturing one at debug
// level. Undo with Restore.
func CaptureForTest() *Capture {
	c := &Capture{prev: slog.Default(), prevLevel: level.Level()}
	slog.SetDefault(slog.New(&captureHandler{capture: c}))
	SetLevel(slog.LevelDebug)
	return c
}

func (c *Capture) Restore() {
	slog.SetDefault(c.prev)
	level.Set(c.prevLevel)
}

// Records returns a snapshot of what has been logged so far.
func (c *Capture) Records() []slog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]slog.Record(nil), c.records...)
}

func (c *Capture) count(match func(slog.Record) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if match(r) {
			n++
		}
	}
	return n
}

// Has reports whether a record at lvl has msg somewhere in its message.
func (c *Capture) Has(lvl slog.Level, msg string) bool {
	return c.count(func(r slog.Record) bool {
		return r.Level == lvl && strings.Contains(r.Message, msg)
	}) > 0
}

// HasAttr reports whether a record mentioning msg carries key. When value
// is non-empty the attribute must also render to value.
func (c *Capture) HasAttr(msg, key, value string) bool {
	return c.count(func(r slog.Record) bool {
		if !strings.Contains(r.Message, msg) {
			return false
		}
		found := false
		r.Attrs(func(a slog.Attr) bool {
			found = a.Key == key && (value == "" || a.Value.String() == value)
			return !found
		})
		return found
	}) > 0
}

func (c *Capture) Count(lvl slog.Level) int {
	return c.count(func(r slog.Record) bool { return r.Level == lvl })
}

// captureHandler stores records, folding in attrs bound via With.
type captureHandler struct {
	capture *Capture
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	if len(h.attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(h.attrs...)
	}
	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	h.capture.records = append(h.capture.records, r)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{
		capture: h.capture,
		attrs:   append(slices.Clip(h.attrs), attrs...),
	}
}

// Groups are flattened; no test asserts on grouped keys.
func (h *captureHandler) WithGroup(string) slog.Handler {
	return h
}
