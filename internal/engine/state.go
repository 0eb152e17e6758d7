package engine

import (
	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

// PipelineStatus classifies a pipeline's delivery health.
type PipelineStatus int

const (
	StatusStartingUp PipelineStatus = iota
	StatusDelivering
	StatusStalled
	StatusLongStall
)

func (s PipelineStatus) String() string {
	switch s {
	case StatusStartingUp:
		return "starting_up"
	case StatusDelivering:
		return "delivering"
	case StatusStalled:
		return "stalled"
	case StatusLongStall:
		return "long_stall"
	default:
		return "unknown"
	}
}

// IsStalled reports Stalled or LongStall.
func (s PipelineStatus) IsStalled() bool {
	return s == StatusStalled || s == StatusLongStall
}

// ptsMap latches the offset between pipeline PTS and the clip's source
// time on the first frame.
type ptsMap struct {
	offset  float64
	latched bool
}

// latch fixes the offset from the first frame and returns it.
func (m *ptsMap) latch(pts, expectedSource float64) float64 {
	if !m.latched {
		m.offset = pts - expectedSource
		m.latched = true
	}
	return m.offset
}

// mapped returns pts in source time, or pts unchanged before the latch.
func (m ptsMap) mapped(pts float64) float64 {
	if !m.latched {
		return pts
	}
	return pts - m.offset
}

// clipRef identifies what a pipeline is decoding.
type clipRef struct {
	clip         timeline.ClipID
	path         string
	timelineClip timeline.TimelineClipID
}

func (r clipRef) matches(hit timeline.PlayheadHit, path string) bool {
	return r.timelineClip == hit.Clip.ID && r.clip == hit.Clip.SourceID && r.path == path
}

type forwardState struct {
	clipRef
	pipe           VideoPipeline
	pts            ptsMap
	speed          float64
	frameDelivered bool
	activated      bool
	startedAt      float64
	lastFrameTime  float64
	hasLastFrame   bool
	age            int
}

func startupStatus(elapsed, grace, longGrace float64) PipelineStatus {
	switch {
	case elapsed <= grace:
		return StatusStartingUp
	case elapsed <= longGrace:
		return StatusStalled
	default:
		return StatusLongStall
	}
}

func gapStatus(gap, stall, longStall float64) PipelineStatus {
	switch {
	case gap > longStall:
		return StatusLongStall
	case gap > stall:
		return StatusStalled
	default:
		return StatusDelivering
	}
}

// status drives the fallback-texture gate.
func (f *forwardState) status(now float64, t *config.Tuning) PipelineStatus {
	if !f.frameDelivered {
		return startupStatus(now-f.startedAt, t.ForwardStartupGraceS, t.ForwardStartupLongGraceS)
	}
	if !f.hasLastFrame {
		return StatusDelivering
	}
	return gapStatus(now-f.lastFrameTime, t.FrameGapStallS, t.FrameGapLongStallS)
}

// stallStatus drives decode-worker requests.
func (f *forwardState) stallStatus(now float64, t *config.Tuning) PipelineStatus {
	if !f.frameDelivered {
		if now-f.startedAt <= t.ForwardStartupGraceS {
			return StatusStartingUp
		}
		return StatusStalled
	}
	if f.hasLastFrame && now-f.lastFrameTime > t.PipelineStallThresholdS {
		return StatusStalled
	}
	return StatusDelivering
}

type reverseState struct {
	clipRef
	pipe          VideoPipeline
	pts           ptsMap
	speed         float64
	activated     bool
	startedAt     float64
	lastFrameTime float64
	hasLastFrame  bool
}

func (r *reverseState) status(now float64, t *config.Tuning) PipelineStatus {
	if !r.hasLastFrame {
		return startupStatus(now-r.startedAt, t.ForwardStartupGraceS, t.ForwardStartupLongGraceS)
	}
	return gapStatus(now-r.lastFrameTime, t.FrameGapStallS, t.FrameGapLongStallS)
}

func (r *reverseState) stallStatus(now float64, t *config.Tuning) PipelineStatus {
	if !r.hasLastFrame {
		if now-r.startedAt <= t.ForwardStartupGraceS {
			return StatusStartingUp
		}
		return StatusStalled
	}
	if now-r.lastFrameTime > t.PipelineStallThresholdS {
		return StatusStalled
	}
	return StatusDelivering
}

// isStuck reports a reverse pipeline that never produced a frame within the
// startup timeout or stopped producing for longer than the long stall.
func (r *reverseState) isStuck(now float64, t *config.Tuning) bool {
	if !r.hasLastFrame {
		return now-r.startedAt > t.EffectiveReverseStartupTimeout()
	}
	return now-r.lastFrameTime > t.FrameGapLongStallS
}

// shadowState is a forward pipeline paused on its preroll frame, with the
// audio sources for its boundary already started.
type shadowState struct {
	clipRef
	pipe            VideoPipeline
	sourceTime      float64
	firstFrameReady bool
	buffered        *media.DecodedFrame
	audio           []audio.Source
}

func (s *shadowState) close() {
	_ = s.pipe.Close()
	for _, src := range s.audio {
		_ = src.Close()
	}
}

// pollFrame buffers the preroll frame once it arrives.
func (s *shadowState) pollFrame() {
	if s.firstFrameReady {
		return
	}
	if f, ok := s.pipe.TryRecvFrame(); ok {
		s.firstFrameReady = true
		s.buffered = f
	}
}

type reverseShadowState struct {
	clipRef
	pipe            VideoPipeline
	sourceTime      float64
	firstFrameReady bool
	buffered        *media.DecodedFrame
}

func (s *reverseShadowState) pollFrame() {
	if s.firstFrameReady {
		return
	}
	if f, ok := s.pipe.TryRecvFrame(); ok {
		s.firstFrameReady = true
		s.buffered = f
	}
}

// pending is a pipeline being opened on a spawned goroutine. The result
// channel receives exactly one value.
type pending[T any] struct {
	clipRef
	sourceTime float64
	speed      float64
	startedAt  float64
	result     chan pendingResult[T]
	release    func(T)
}

type pendingResult[T any] struct {
	value T
	err   error
}

func spawnPending[T any](spawn func(func()), ref clipRef, sourceTime, speed, now float64,
	start func() (T, error), release func(T)) *pending[T] {
	p := &pending[T]{
		clipRef:    ref,
		sourceTime: sourceTime,
		speed:      speed,
		startedAt:  now,
		result:     make(chan pendingResult[T], 1),
		release:    release,
	}
	spawn(func() {
		v, err := start()
		p.result <- pendingResult[T]{value: v, err: err}
	})
	return p
}

// tryRecv returns the result if the open finished.
func (p *pending[T]) tryRecv() (pendingResult[T], bool) {
	select {
	case r := <-p.result:
		return r, true
	default:
		return pendingResult[T]{}, false
	}
}

// discard releases the pipeline whenever the open completes. Must not be
// called after tryRecv returned a result.
func (p *pending[T]) discard() {
	go func() {
		r := <-p.result
		if r.err == nil {
			p.release(r.value)
		}
	}()
}

type shadowBuild struct {
	pipe  VideoPipeline
	audio []audio.Source
}

func closeVideo(p VideoPipeline) { _ = p.Close() }

func closeShadowBuild(b shadowBuild) {
	_ = b.pipe.Close()
	for _, src := range b.audio {
		_ = src.Close()
	}
}
