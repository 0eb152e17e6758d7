// Package rewind keeps recently displayed forward frames so reverse playback
// can show something while its decode pipeline warms up.
package rewind

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/e7canasta/wizard-playback/internal/timeline"
)

const (
	trimTolerance = 0.002
	bestTolerance = 0.001
)

// Entry is one cached frame. The cache owns RGBA.
type Entry struct {
	TimelinePos    float64
	SourcePTS      float64
	ClipID         timeline.ClipID
	TimelineClipID timeline.TimelineClipID
	Width          int
	Height         int
	RGBA           []byte
}

// Cache is a bounded FIFO of entries in insertion order. Entries pushed
// during forward playback have increasing TimelinePos.
//
// Not safe for concurrent use; the engine owns it.
type Cache struct {
	entries  []Entry
	bytes    int
	maxCount int
	maxBytes int
}

// New creates a cache bounded by maxFrames entries and maxBytes of pixels.
func New(maxFrames, maxBytes int) *Cache {
	return &Cache{
		maxCount: max(maxFrames, 1),
		maxBytes: max(maxBytes, 1),
	}
}

// Push appends e and evicts the oldest entries until both bounds hold.
func (c *Cache) Push(e Entry) {
	c.entries = append(c.entries, e)
	c.bytes += len(e.RGBA)

	evicted := 0
	for len(c.entries) > 0 && (len(c.entries) > c.maxCount || c.bytes > c.maxBytes) {
		c.bytes -= len(c.entries[0].RGBA)
		c.entries[0] = Entry{}
		c.entries = c.entries[1:]
		evicted++
	}
	if evicted > 1 {
		slog.Debug("rewind: evicted entries",
			"count", evicted,
			"size", humanize.Bytes(uint64(c.bytes)),
		)
	}
}

// TrimAbove drops entries from the tail positioned past playhead.
func (c *Cache) TrimAbove(playhead float64) {
	for len(c.entries) > 0 {
		last := len(c.entries) - 1
		if c.entries[last].TimelinePos <= playhead+trimTolerance {
			return
		}
		c.bytes -= len(c.entries[last].RGBA)
		c.entries[last] = Entry{}
		c.entries = c.entries[:last]
	}
}

// BestEntryForPlayhead scans from the newest entry and returns the first one
// positioned at or before playhead.
func (c *Cache) BestEntryForPlayhead(playhead float64) (*Entry, bool) {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].TimelinePos <= playhead+bestTolerance {
			return &c.entries[i], true
		}
	}
	return nil, false
}

// Clear drops every entry.
func (c *Cache) Clear() {
	clear(c.entries)
	c.entries = c.entries[:0]
	c.bytes = 0
}

// Len returns the number of entries.
func (c *Cache) Len() int { return len(c.entries) }

// Bytes returns the pixel bytes held.
func (c *Cache) Bytes() int { return c.bytes }

// IsEmpty reports whether the cache holds nothing.
func (c *Cache) IsEmpty() bool { return len(c.entries) == 0 }
