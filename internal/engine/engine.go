// Package engine binds timeline state to decode pipelines: it decides which
// pipelines must exist each tick, maps their frames onto the playhead and
// feeds the display and the audio mixer.
//
// The engine is driven by a single control goroutine through Tick and never
// blocks: pipeline opens run on spawned goroutines and every channel
// operation is non-blocking.
package engine

import (
	"log/slog"
	"math"
	"time"

	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/debuglog"
	"github.com/e7canasta/wizard-playback/internal/fpsstats"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/rewind"
	"github.com/e7canasta/wizard-playback/internal/timeline"
	"github.com/e7canasta/wizard-playback/internal/workers"
)

// Display source tags.
const (
	SourceForward = "fwd"
	SourceReverse = "rev"
	SourceCache   = "cache"
	SourceDecode  = "decode"
)

const (
	// minAgeForClipChange keeps a fresh pipeline's first frames from
	// triggering a clip switch or promotion.
	minAgeForClipChange = 2
	// promotionSlack lets promotion fire when the playhead is within one
	// 60 Hz tick of the clip end.
	promotionSlack  = 0.016
	pickTolerance   = 0.05
	speedEpsilon    = 0.01
	boundaryEpsilon = 0.001
	// stoppedShadowDrift rebuilds a stopped-state shadow that no longer
	// matches the playhead.
	stoppedShadowDrift = 0.05
	startedAudioQueue  = 32
)

// Display receives the playback texture.
type Display interface {
	SetFrame(rgba []byte, width, height int, source string, playhead float64)
	ClearFrame()
}

// FrameDecoder is the on-demand single-frame decoder (workers.DecodeWorker).
type FrameDecoder interface {
	Request(req workers.DecodeRequest)
	TryRecv() (workers.DecodeResult, bool)
	CachedFrame(clip timeline.ClipID, sourceTime float64) (*media.DecodedFrame, bool)
}

// SnippetSource is the on-demand audio preview decoder (workers.SnippetWorker).
type SnippetSource interface {
	Preview(path string, time float64, sampleRate int)
	StopPreview()
	TryRecv() (workers.Snippet, bool)
}

// Options configures an Engine.
type Options struct {
	Tuning     config.Tuning
	SampleRate int
	Channels   int

	Factory  Factory
	Display  Display
	Output   *audio.Output // nil disables audio
	Decoder  FrameDecoder
	Snippets SnippetSource
	NoAudio  *workers.NoAudioPaths
	DebugLog *debuglog.Logger
}

type bucketKey struct {
	clip   timeline.ClipID
	bucket int64
}

type decodedMark struct {
	pts    float64
	source string
}

type startedAudio struct {
	gen  uint64
	src  audio.Source
	path string
	err  error
}

// Engine is the playback state machine. Not safe for concurrent use.
type Engine struct {
	tuning     config.Tuning
	sampleRate int
	channels   int

	factory  Factory
	display  Display
	output   *audio.Output
	mixer    *audio.Mixer
	decoder  FrameDecoder
	snippets SnippetSource
	noAudio  *workers.NoAudioPaths
	dlog     *debuglog.Logger
	rewind   *rewind.Cache
	videoFPS *fpsstats.Meter
	tickRate fpsstats.TickRate

	// spawn runs pipeline opens off the control goroutine.
	spawn func(func())

	forward              *forwardState
	pendingForward       *pending[VideoPipeline]
	shadow               *shadowState
	pendingShadow        *pending[shadowBuild]
	reverse              *reverseState
	pendingReverse       *pending[VideoPipeline]
	reverseShadow        *reverseShadowState
	pendingReverseShadow *pending[VideoPipeline]

	audioGen      uint64
	audioInFlight int
	audioStarted  chan startedAudio

	lastVideoDecodeReq *bucketKey
	lastHoverAudioReq  *bucketKey
	lastScrubAudioReq  *bucketKey

	wasScrubbing         bool
	lastIsPlaying        bool
	lastState            timeline.State
	lastDecoded          *decodedMark
	lastPlayheadObserved float64
	advanceDebt          float64
	lastTick             float64
	hasLastTick          bool

	counters counters
}

type counters struct {
	forwardStarts     uint64
	reverseStarts     uint64
	shadowStarts      uint64
	promotions        uint64
	reversePromotions uint64
	staleRestarts     uint64
	openFailures      uint64
	fallbackFrames    uint64
	cacheFrames       uint64
}

// New creates an engine. Factory and Display are required.
func New(opts Options) *Engine {
	if err := config.ValidateTuning(&opts.Tuning); err != nil {
		slog.Warn("engine: invalid tuning, using defaults", "error", err)
		opts.Tuning = config.DefaultTuning()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	if opts.NoAudio == nil {
		opts.NoAudio = workers.NewNoAudioPaths()
	}

	e := &Engine{
		tuning:       opts.Tuning,
		sampleRate:   opts.SampleRate,
		channels:     opts.Channels,
		factory:      opts.Factory,
		display:      opts.Display,
		output:       opts.Output,
		decoder:      opts.Decoder,
		snippets:     opts.Snippets,
		noAudio:      opts.NoAudio,
		dlog:         opts.DebugLog,
		rewind:       rewind.New(opts.Tuning.RewindCacheMaxFrames, opts.Tuning.RewindCacheMaxBytes),
		videoFPS:     fpsstats.NewMeter(time.Duration(opts.Tuning.FPSWindowS * float64(time.Second))),
		spawn:        func(f func()) { go f() },
		audioStarted: make(chan startedAudio, startedAudioQueue),
	}
	if e.output != nil {
		e.mixer = audio.NewMixer(e.output)
	}
	return e
}

// wall converts engine seconds to a time for the FPS meters.
func wall(now float64) time.Time {
	return time.Unix(0, 0).Add(time.Duration(now * float64(time.Second)))
}

func (e *Engine) bucket(t, rate float64) int64 {
	return int64(math.Round(t * rate))
}

func (e *Engine) audioEnabled() bool { return e.mixer != nil }

// Tick runs one control step at now (seconds, monotonic). It may move the
// playhead and change p.Playback.State.
func (e *Engine) Tick(p *timeline.Project, now float64) {
	wasPlaying := e.lastIsPlaying
	previous := e.lastState

	if e.hasLastTick {
		e.advancePlayhead(p, now-e.lastTick)
	}
	e.lastTick, e.hasLastTick = now, true
	e.tickRate.Tick(wall(now))

	e.handleStateTransition(previous, p.Playback.State)

	e.pollPendingForward(now)
	e.pollPendingReverse(now)
	e.managePipeline(p, now)
	e.manageShadow(p, now)
	e.manageReverseShadow(p, now)

	e.updateHoverAudio(p)
	e.updateScrubAudio(p)
	e.updatePlaybackFrame(p, now)

	isPlaying := p.Playback.IsPlaying()
	if wasPlaying && !isPlaying {
		e.handleStopTransition()
	}
	e.lastPlayheadObserved = p.Playback.Playhead
	e.lastIsPlaying = isPlaying
	e.lastState = p.Playback.State

	e.pollPipelineFrames(p, now)
}

// advancePlayhead moves the forward playhead by wall time. Advances are
// capped per tick; the remainder carries over as bounded debt. Reverse is
// driven by decoded frames only.
func (e *Engine) advancePlayhead(p *timeline.Project, dt float64) {
	if dt <= 0 {
		return
	}
	switch p.Playback.State {
	case timeline.Stopped:
		e.advanceDebt = 0
	case timeline.Playing:
		if e.pendingForward != nil {
			return
		}
		if e.forward != nil && !e.forward.frameDelivered {
			return
		}
		total := dt + e.advanceDebt
		step := min(total, e.tuning.PlayheadAdvanceMaxDtS)
		e.advanceDebt = min(total-step, e.tuning.PlayheadAdvanceDebtMaxS)
		p.Playback.Advance(step, p.Timeline.Duration())
	}
}

func (e *Engine) handleStateTransition(previous, current timeline.State) {
	forwardToReverse := previous == timeline.Playing && current == timeline.PlayingReverse
	reverseToForward := previous == timeline.PlayingReverse && current == timeline.Playing
	if !forwardToReverse && !reverseToForward {
		return
	}

	e.dropForward()
	e.dropPendingForward()
	e.dropReverse()
	e.dropPendingReverse()
	e.dropShadow()
	e.dropPendingShadow()
	e.dropReverseShadow()
	e.dropPendingReverseShadow()
	if reverseToForward {
		e.rewind.Clear()
	}
	e.stopSnippets()
	e.lastHoverAudioReq = nil
	e.lastScrubAudioReq = nil
	e.lastVideoDecodeReq = nil
	e.lastDecoded = nil
	e.resetAudioSources()

	slog.Debug("engine: direction change", "from", previous, "to", current)
}

func (e *Engine) handleStopTransition() {
	e.stopSnippets()
	e.lastHoverAudioReq = nil
	e.lastScrubAudioReq = nil
	e.lastVideoDecodeReq = nil
	e.lastDecoded = nil
	e.dropShadow()
	e.dropPendingShadow()
	e.dropReverseShadow()
	e.dropPendingReverseShadow()
	e.dropPendingForward()
	e.dropPendingReverse()
	e.rewind.Clear()
	e.resetAudioSources()
}

func (e *Engine) tryActivate(now float64) {
	if f := e.forward; f != nil && !f.activated && f.pipe.IsFirstFrameReady() {
		f.activated = true
		f.pipe.BeginPlaying()
	}
	if r := e.reverse; r != nil && !r.activated {
		ready := r.pipe.IsFirstFrameReady()
		force := !ready && now-r.startedAt >= e.tuning.ReverseForcePlayingAfterS
		if ready || force {
			r.activated = true
			r.pipe.BeginPlaying()
			if force {
				slog.Debug("engine: reverse pipeline forced to play", "id", r.pipe.ID())
			}
		}
	}
}

// managePipeline applies the per-tick pipeline policy.
func (e *Engine) managePipeline(p *timeline.Project, now float64) {
	e.tryActivate(now)

	state := p.Playback.State
	isForward := state == timeline.Playing
	isReverse := state == timeline.PlayingReverse
	isScrubbing := p.UI.Scrubbing != nil

	if !isForward && e.forward != nil {
		e.dropForward()
		e.dropShadow()
		e.dropPendingShadow()
	}
	if !isReverse && (e.reverse != nil || e.pendingReverse != nil) {
		e.dropReverse()
		e.dropPendingReverse()
		e.dropReverseShadow()
		e.dropPendingReverseShadow()
	}
	// Stopped-state shadows of the other direction.
	switch state {
	case timeline.Playing:
		e.dropReverseShadow()
		e.dropPendingReverseShadow()
	case timeline.PlayingReverse:
		e.dropShadow()
		e.dropPendingShadow()
	}

	if !p.Playback.IsPlaying() {
		e.pollPendingShadow()
		e.pollShadowFrame()
		e.pollPendingReverseShadow()
		e.pollReverseShadowFrame()
		if !isScrubbing {
			e.manageShadowForStopped(p, now)
			e.manageReverseShadowForStopped(p, now)
		}
		e.wasScrubbing = isScrubbing
		return
	}

	playhead := p.Playback.Playhead
	if isScrubbing {
		playhead = *p.UI.Scrubbing
	}

	hit, ok := p.Timeline.VideoClipAt(playhead)
	if !ok {
		hadPipeline := e.forward != nil || e.reverse != nil
		e.dropForward()
		e.dropPendingForward()
		e.dropReverse()
		e.display.ClearFrame()
		e.lastDecoded = nil
		if hadPipeline {
			e.resetAudioSources()
		}
		if isForward && !isScrubbing && e.audioEnabled() {
			hasAudio := p.Timeline.HasUnmutedAudioAt(playhead)
			if hasAudio && e.mixer.SourceCount() == 0 && !e.audioStarting() {
				e.startAudioSources(p)
			} else if !hasAudio && e.mixer.SourceCount() > 0 {
				e.resetAudioSources()
			}
		}
		e.wasScrubbing = isScrubbing
		return
	}

	src, ok := p.Source(hit.Clip.SourceID)
	if !ok {
		e.wasScrubbing = isScrubbing
		return
	}
	path := src.Path
	scrubJustReleased := e.wasScrubbing && !isScrubbing

	if isScrubbing {
		e.dropForward()
		e.dropPendingForward()
		e.dropReverse()
		e.dropShadow()
		e.dropPendingShadow()
		e.rewind.Clear()
		e.resetAudioSources()
		e.wasScrubbing = true
		return
	}

	if isForward {
		e.manageForward(p, hit, path, playhead, scrubJustReleased, now)
	}
	if isReverse {
		if e.reverse == nil && e.pendingReverse == nil && e.promoteReverseShadow(p, hit.Clip.ID, now) {
			e.tryActivate(now)
		} else {
			e.manageReversePipeline(p, hit, path, now)
		}
	}
	e.wasScrubbing = isScrubbing
}

func (e *Engine) manageForward(p *timeline.Project, hit timeline.PlayheadHit, path string, playhead float64, scrubJustReleased bool, now float64) {
	if e.forward != nil {
		e.forward.age++
	}

	speed := p.Playback.EffectiveSpeed()
	speedChanged := e.forward != nil && math.Abs(speed-e.forward.speed) > speedEpsilon
	pendingMatches := e.pendingForward != nil && e.pendingForward.timelineClip == hit.Clip.ID && e.pendingForward.clip == hit.Clip.SourceID

	var needsNew bool
	if e.forward == nil {
		needsNew = !pendingMatches
	} else {
		needsNew = e.forward.age >= minAgeForClipChange && !e.forward.matches(hit, path)
	}

	if speedChanged && !needsNew {
		e.forward.pipe.UpdateSpeed(speed)
		e.forward.speed = speed
		e.resetAudioSources()
		e.startAudioSources(p)
		slog.Debug("engine: forward speed changed", "speed", speed)
	}

	stale := e.forward != nil && e.forward.hasLastFrame && now-e.forward.lastFrameTime > e.tuning.StalePipelineThresholdS
	if stale && !needsNew {
		slog.Info("engine: forward pipeline stale, restarting",
			"id", e.forward.pipe.ID(),
			"silence_s", now-e.forward.lastFrameTime,
			"source_time", hit.SourceTime,
		)
		e.dlog.Event("engine.manageForward", "H6", "stale forward restart", map[string]any{
			"playhead": playhead, "sourceTime": hit.SourceTime, "silence": now - e.forward.lastFrameTime,
		})
		e.counters.staleRestarts++
		e.dropForward()
		e.dropPendingForward()
		e.dropShadow()
		e.dropPendingShadow()
		e.resetAudioSources()
		e.startPipeline(p, hit, path, now)
		return
	}

	if !scrubJustReleased && !needsNew {
		return
	}

	promoted := !scrubJustReleased && e.forward == nil &&
		e.shadow != nil && e.shadow.timelineClip == hit.Clip.ID &&
		e.promoteShadow(p, playhead, hit, now)
	if promoted {
		return
	}

	e.dropForward()
	e.dropPendingForward()
	e.dropShadow()
	e.dropPendingShadow()
	if scrubJustReleased {
		e.resetAudioSources()
	}
	e.startPipeline(p, hit, path, now)
	if scrubJustReleased {
		p.Playback.Playhead = playhead
	}
}

func (e *Engine) updateVideoFPS(now float64) {
	e.videoFPS.Record(wall(now))
}

func (e *Engine) showFrame(f *media.DecodedFrame, source string, playhead float64) {
	e.display.SetFrame(f.RGBA, f.Width, f.Height, source, playhead)
}

// showBridgeFrame displays a previously decoded frame for the target while
// a new pipeline warms up.
func (e *Engine) showBridgeFrame(clip timeline.ClipID, sourceTime, playhead float64) {
	if e.decoder == nil {
		return
	}
	if f, ok := e.decoder.CachedFrame(clip, sourceTime); ok {
		e.showFrame(f, SourceDecode, playhead)
	}
}

func (e *Engine) dropForward() {
	if e.forward != nil {
		_ = e.forward.pipe.Close()
		e.forward = nil
	}
}

func (e *Engine) dropPendingForward() {
	if e.pendingForward != nil {
		e.pendingForward.discard()
		e.pendingForward = nil
	}
}

func (e *Engine) dropShadow() {
	if e.shadow != nil {
		e.shadow.close()
		e.shadow = nil
	}
}

func (e *Engine) dropPendingShadow() {
	if e.pendingShadow != nil {
		e.pendingShadow.discard()
		e.pendingShadow = nil
	}
}

func (e *Engine) dropReverse() {
	if e.reverse != nil {
		_ = e.reverse.pipe.Close()
		e.reverse = nil
	}
}

func (e *Engine) dropPendingReverse() {
	if e.pendingReverse != nil {
		e.pendingReverse.discard()
		e.pendingReverse = nil
	}
}

func (e *Engine) dropReverseShadow() {
	if e.reverseShadow != nil {
		_ = e.reverseShadow.pipe.Close()
		e.reverseShadow = nil
	}
}

func (e *Engine) dropPendingReverseShadow() {
	if e.pendingReverseShadow != nil {
		e.pendingReverseShadow.discard()
		e.pendingReverseShadow = nil
	}
}

// Close drops every pipeline and audio source.
func (e *Engine) Close() {
	e.dropForward()
	e.dropPendingForward()
	e.dropShadow()
	e.dropPendingShadow()
	e.dropReverse()
	e.dropPendingReverse()
	e.dropReverseShadow()
	e.dropPendingReverseShadow()
	e.resetAudioSources()
	e.rewind.Clear()
}
