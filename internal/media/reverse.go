package media

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/wizard-playback/internal/clock"
)

const (
	defaultGOPWindow    = 4.0
	reverseGOPQueue     = 8
	reverseFrameQueue   = 4
	gopBoundaryEpsilon  = 0.001
	reverseSpeedUpdates = 4
)

// ReverseOptions configures a reverse pipeline.
type ReverseOptions struct {
	Path      string
	StartTime float64 // source seconds to play backwards from
	Width     int
	Height    int
	Speed     float64
	GOPWindow float64     // seconds per backwards decode window (default 4)
	Open      VideoOpener // defaults to OpenFrameDecoder
}

// Reverse plays a file backwards by decoding GOP-sized windows forwards,
// reversing each window, and pacing the result.
//
// Within a window frames have decreasing PTS and are spaced in wall time by
// their PTS distance over speed. Each window starts a new pacing origin.
type Reverse struct {
	id     string
	path   string
	frames chan *DecodedFrame
	speeds chan float64

	firstFrameReady atomic.Bool
	windowsDecoded  atomic.Uint64
	framesEmitted   atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// StartReverse launches the decode and pacer goroutines. The decoder is
// opened on the decode goroutine, so this never blocks on I/O; an open
// failure surfaces as a pipeline that never produces a frame.
func StartReverse(opts ReverseOptions) (*Reverse, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("media: invalid target size %dx%d", opts.Width, opts.Height)
	}
	if opts.Path == "" {
		return nil, ErrInvalidPath
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.GOPWindow <= 0 {
		opts.GOPWindow = defaultGOPWindow
	}
	if opts.Open == nil {
		opts.Open = OpenFrameDecoder
	}

	p := &Reverse{
		id:     uuid.NewString(),
		path:   opts.Path,
		frames: make(chan *DecodedFrame, reverseFrameQueue),
		speeds: make(chan float64, reverseSpeedUpdates),
		stop:   make(chan struct{}),
	}

	windows := make(chan reversedFrame, reverseGOPQueue)
	p.wg.Add(2)
	go p.decodeLoop(opts, windows)
	go p.pace(opts.Speed, windows)

	slog.Debug("media: reverse pipeline started",
		"id", p.id,
		"path", opts.Path,
		"start", opts.StartTime,
		"speed", opts.Speed,
		"gop_window", opts.GOPWindow,
	)
	return p, nil
}

func (p *Reverse) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// reversedFrame is a frame on its way to the pacer. windowStart marks the
// newest frame of a decode window.
type reversedFrame struct {
	frame       *DecodedFrame
	windowStart bool
}

// decodeLoop walks windows [end-GOP, end] backwards to zero and emits each
// window's frames newest first.
func (p *Reverse) decodeLoop(opts ReverseOptions, out chan<- reversedFrame) {
	defer p.wg.Done()
	defer close(out)

	dec, err := opts.Open(opts.Path, opts.Width, opts.Height)
	if err != nil {
		slog.Warn("media: reverse decoder open failed", "id", p.id, "path", opts.Path, "error", err)
		return
	}
	defer dec.Close()

	end := opts.StartTime
	if d, ok := dec.DurationSeconds(); ok {
		end = min(end, d)
	}
	first := true

	for end > 0 {
		if p.stopped() {
			return
		}
		gopStart := max(0, end-opts.GOPWindow)

		var window []*DecodedFrame
		for _, f := range dec.DecodeGOPRange(gopStart, end) {
			// Frames before gopStart belong to the next window; the first
			// window may overshoot end slightly, later ones must not repeat it.
			if gopStart > 0 && f.PTS < gopStart {
				continue
			}
			if !first && f.PTS >= end {
				continue
			}
			window = append(window, f)
		}
		p.windowsDecoded.Add(1)

		for i := len(window) - 1; i >= 0; i-- {
			select {
			case out <- reversedFrame{frame: window[i], windowStart: i == len(window)-1}:
			case <-p.stop:
				return
			}
		}

		first = false
		end = gopStart
	}
}

// pace emits frames at speed, resetting the clock at every window boundary.
func (p *Reverse) pace(speed float64, in <-chan reversedFrame) {
	defer p.wg.Done()

	clk := clock.New(speed)
	started := false
	var lastPTS, gopBase float64

	for {
		var item reversedFrame
		select {
		case <-p.stop:
			return
		case next, ok := <-in:
			if !ok {
				return
			}
			item = next
		}
		f := item.frame

	drain:
		for {
			select {
			case s := <-p.speeds:
				clk.SetSpeed(s)
			default:
				break drain
			}
		}

		if !started || item.windowStart || f.PTS > lastPTS+gopBoundaryEpsilon {
			clk.Reset(0)
			gopBase = f.PTS
		}

		if d := clk.Delay(math.Abs(gopBase - f.PTS)); d > 0 {
			select {
			case <-time.After(d):
			case <-p.stop:
				return
			}
		}

		select {
		case p.frames <- f:
			p.framesEmitted.Add(1)
		case <-p.stop:
			return
		}
		if !started {
			p.firstFrameReady.Store(true)
			started = true
		}
		lastPTS = f.PTS
	}
}

// ID returns the pipeline instance id used in logs.
func (p *Reverse) ID() string { return p.id }

// IsFirstFrameReady reports whether the first reversed frame left the pacer.
func (p *Reverse) IsFirstFrameReady() bool { return p.firstFrameReady.Load() }

// BeginPlaying is a no-op: reverse frames flow as soon as they are paced.
func (p *Reverse) BeginPlaying() {}

// TryRecvFrame returns the next frame without blocking.
func (p *Reverse) TryRecvFrame() (*DecodedFrame, bool) {
	select {
	case f := <-p.frames:
		return f, true
	default:
		return nil, false
	}
}

// ReturnBuffer drops b. Reverse windows are decoded into fresh buffers.
func (p *Reverse) ReturnBuffer([]byte) {}

// UpdateSpeed rebases the pacer clock. Updates beyond the queue are dropped.
func (p *Reverse) UpdateSpeed(speed float64) {
	select {
	case p.speeds <- speed:
	default:
	}
}

// Stats returns (windows decoded, frames emitted).
func (p *Reverse) Stats() (windows, frames uint64) {
	return p.windowsDecoded.Load(), p.framesEmitted.Load()
}

// Close signals both goroutines to stop. Safe to call more than once.
func (p *Reverse) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	return nil
}

// Wait blocks until both goroutines have exited or timeout elapses.
func (p *Reverse) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
