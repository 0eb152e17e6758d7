package rewind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(pos float64, size int) Entry {
	return Entry{TimelinePos: pos, SourcePTS: pos, Width: 1, Height: 1, RGBA: make([]byte, size)}
}

func TestPush_EvictsByCount(t *testing.T) {
	c := New(3, 1<<20)
	for i := 0; i < 5; i++ {
		c.Push(entry(float64(i), 4))
	}
	require.Equal(t, 3, c.Len())
	e, ok := c.BestEntryForPlayhead(100)
	require.True(t, ok)
	assert.Equal(t, 4.0, e.TimelinePos)
	assert.Equal(t, 12, c.Bytes())

	_, ok = c.BestEntryForPlayhead(1.5)
	assert.False(t, ok, "oldest entries were evicted")
}

func TestPush_EvictsByBytes(t *testing.T) {
	c := New(100, 10)
	c.Push(entry(0, 4))
	c.Push(entry(1, 4))
	c.Push(entry(2, 4))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 8, c.Bytes())
}

func TestTrimAbove(t *testing.T) {
	c := New(10, 1<<20)
	for _, p := range []float64{2.0, 2.5, 3.0, 3.5} {
		c.Push(entry(p, 1))
	}
	c.TrimAbove(3.001)
	assert.Equal(t, 3, c.Len())
	c.TrimAbove(0)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0, c.Bytes())
}

func TestBestEntryForPlayhead(t *testing.T) {
	c := New(10, 1<<20)
	for _, p := range []float64{2.0, 2.5, 3.0} {
		c.Push(entry(p, 1))
	}

	tests := []struct {
		name     string
		playhead float64
		want     float64
		found    bool
	}{
		{"exact", 2.5, 2.5, true},
		{"within tolerance", 2.9995, 3.0, true},
		{"between entries", 2.7, 2.5, true},
		{"before all", 1.9, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := c.BestEntryForPlayhead(tt.playhead)
			require.Equal(t, tt.found, ok)
			if ok {
				assert.Equal(t, tt.want, e.TimelinePos)
			}
		})
	}
}

func TestTrimPushBest_Law(t *testing.T) {
	c := New(10, 1<<20)
	for _, p := range []float64{1, 2, 3, 4} {
		c.Push(entry(p, 1))
	}
	p := 2.5
	c.TrimAbove(p)
	e := entry(2.4, 1)
	c.Push(e)
	got, ok := c.BestEntryForPlayhead(p)
	require.True(t, ok)
	assert.Equal(t, 2.4, got.TimelinePos)
}

func TestClear(t *testing.T) {
	c := New(10, 1<<20)
	c.Push(entry(1, 8))
	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0, c.Bytes())
}
