package media

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecoder serves frames every step seconds with a keyframe every gop
// seconds, up to duration.
type fakeDecoder struct {
	step, gop, duration float64

	mu     sync.Mutex
	next   int
	last   float64
	has    bool
	closed bool
}

func (d *fakeDecoder) frameAt(i int) (*DecodedFrame, bool) {
	pts := float64(i) * d.step
	if pts >= d.duration {
		return nil, false
	}
	d.next = i + 1
	d.last, d.has = pts, true
	return &DecodedFrame{PTS: pts, Width: 2, Height: 2, RGBA: make([]byte, 16)}, true
}

func (d *fakeDecoder) SeekAndDecode(t float64) (*DecodedFrame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := math.Floor(t/d.gop) * d.gop
	return d.frameAt(int(math.Round(key / d.step)))
}

func (d *fakeDecoder) DecodeNextFrame() (*DecodedFrame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameAt(d.next)
}

func (d *fakeDecoder) LastDecodeTime() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.has
}

func (d *fakeDecoder) DecodeGOPRange(start, end float64) []*DecodedFrame {
	var out []*DecodedFrame
	f, ok := d.SeekAndDecode(start)
	for ok && f.PTS <= end+gopOvershoot {
		out = append(out, f)
		f, ok = d.DecodeNextFrame()
	}
	return out
}

func (d *fakeDecoder) DurationSeconds() (float64, bool) { return d.duration, true }

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func collectReverse(t *testing.T, p *Reverse, timeout time.Duration) []*DecodedFrame {
	t.Helper()
	var frames []*DecodedFrame
	deadline := time.Now().Add(timeout)
	idle := 0
	for time.Now().Before(deadline) {
		f, ok := p.TryRecvFrame()
		if !ok {
			idle++
			if idle > 50 && p.Wait(0) {
				break
			}
			time.Sleep(time.Millisecond)
			continue
		}
		idle = 0
		frames = append(frames, f)
	}
	for {
		f, ok := p.TryRecvFrame()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestReverse_EmitsDecreasingPTSToZero(t *testing.T) {
	dec := &fakeDecoder{step: 0.04, gop: 1.0, duration: 20}
	p, err := StartReverse(ReverseOptions{
		Path: "fake.mp4", StartTime: 6.0, Width: 2, Height: 2, Speed: 200, GOPWindow: 2,
		Open: func(string, int, int) (VideoDecoder, error) { return dec, nil },
	})
	require.NoError(t, err)
	defer p.Close()

	frames := collectReverse(t, p, 5*time.Second)
	require.NotEmpty(t, frames)
	assert.True(t, p.IsFirstFrameReady())

	assert.InDelta(t, 6.0, frames[0].PTS, 0.05+1e-9, "first frame starts near the start time")
	assert.InDelta(t, 0.0, frames[len(frames)-1].PTS, 1e-9, "playback reaches the file start")

	seen := map[float64]bool{}
	for i := 1; i < len(frames); i++ {
		assert.LessOrEqual(t, frames[i].PTS, frames[i-1].PTS, "frame %d out of order", i)
		assert.False(t, seen[frames[i].PTS], "frame %.2f repeated", frames[i].PTS)
		seen[frames[i].PTS] = true
	}

	windows, emitted := p.Stats()
	assert.Equal(t, uint64(3), windows)
	assert.Equal(t, uint64(len(frames)), emitted)

	dec.mu.Lock()
	assert.True(t, dec.closed, "decoder closed when the walk reaches zero")
	dec.mu.Unlock()
	t.Logf("✅ %d frames in decreasing order across %d windows", len(frames), windows)
}

func TestReverse_PacesAtSpeed(t *testing.T) {
	dec := &fakeDecoder{step: 0.04, gop: 1.0, duration: 20}
	p, err := StartReverse(ReverseOptions{
		Path: "fake.mp4", StartTime: 1.0, Width: 2, Height: 2, Speed: 4, GOPWindow: 4,
		Open: func(string, int, int) (VideoDecoder, error) { return dec, nil },
	})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	frames := collectReverse(t, p, 5*time.Second)
	elapsed := time.Since(start)

	require.NotEmpty(t, frames)
	// one second of source at 4x takes ~250ms of wall time
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestReverse_OpenFailureProducesNothing(t *testing.T) {
	p, err := StartReverse(ReverseOptions{
		Path: "missing.mp4", StartTime: 3, Width: 2, Height: 2,
		Open: func(string, int, int) (VideoDecoder, error) { return nil, errors.New("boom") },
	})
	require.NoError(t, err)
	require.True(t, p.Wait(time.Second))
	_, ok := p.TryRecvFrame()
	assert.False(t, ok)
	assert.False(t, p.IsFirstFrameReady())
}

func TestReverse_CloseStopsGoroutines(t *testing.T) {
	dec := &fakeDecoder{step: 0.04, gop: 1.0, duration: 100}
	p, err := StartReverse(ReverseOptions{
		Path: "fake.mp4", StartTime: 90, Width: 2, Height: 2, Speed: 1,
		Open: func(string, int, int) (VideoDecoder, error) { return dec, nil },
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, p.Wait(time.Second), "goroutines exit after Close")
}

func TestReverse_UpdateSpeedNeverBlocks(t *testing.T) {
	dec := &fakeDecoder{step: 0.04, gop: 1.0, duration: 100}
	p, err := StartReverse(ReverseOptions{
		Path: "fake.mp4", StartTime: 50, Width: 2, Height: 2,
		Open: func(string, int, int) (VideoDecoder, error) { return dec, nil },
	})
	require.NoError(t, err)
	defer p.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.UpdateSpeed(float64(i%4 + 1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("UpdateSpeed blocked")
	}
}

func TestStartReverse_Validation(t *testing.T) {
	_, err := StartReverse(ReverseOptions{Path: "x", Width: 0, Height: 2})
	assert.Error(t, err)
	_, err = StartReverse(ReverseOptions{Path: "", Width: 2, Height: 2})
	assert.ErrorIs(t, err, ErrInvalidPath)
}
