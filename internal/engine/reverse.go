package engine

import (
	"log/slog"
	"math"

	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

func (e *Engine) reverseRequest(path string, sourceTime, speed float64) ReverseRequest {
	return ReverseRequest{
		Path:      path,
		StartTime: sourceTime,
		Width:     e.tuning.PlaybackDecodeWidth,
		Height:    e.tuning.PlaybackDecodeHeight,
		Speed:     speed,
		GOPWindow: e.tuning.GOPWindowS,
	}
}

func (e *Engine) spawnReverse(p *timeline.Project, hit timeline.PlayheadHit, path string, now float64) {
	speed := p.Playback.EffectiveSpeed()
	req := e.reverseRequest(path, hit.SourceTime, speed)
	e.pendingReverse = spawnPending(e.spawn, refFor(hit, path), hit.SourceTime, speed, now,
		func() (VideoPipeline, error) { return e.factory.StartReverse(req) }, closeVideo)
	e.counters.reverseStarts++
	e.showBridgeFrame(hit.Clip.SourceID, hit.SourceTime, p.Playback.Playhead)

	slog.Debug("engine: reverse pipeline requested",
		"clip", hit.Clip.ID,
		"path", path,
		"source_time", hit.SourceTime,
		"speed", speed,
	)
}

func (e *Engine) pollPendingReverse(now float64) {
	if e.pendingReverse == nil {
		return
	}
	r, ok := e.pendingReverse.tryRecv()
	if !ok {
		return
	}
	pr := e.pendingReverse
	e.pendingReverse = nil
	if r.err != nil {
		e.counters.openFailures++
		slog.Warn("engine: reverse pipeline failed", "path", pr.path, "error", r.err)
		return
	}
	e.reverse = &reverseState{
		clipRef:   pr.clipRef,
		pipe:      r.value,
		speed:     pr.speed,
		startedAt: pr.startedAt,
	}
	e.tryActivate(now)
}

// manageReversePipeline keeps one reverse pipeline on the clip under the
// playhead, replacing it when the clip changes or it stops delivering.
func (e *Engine) manageReversePipeline(p *timeline.Project, hit timeline.PlayheadHit, path string, now float64) {
	speed := p.Playback.EffectiveSpeed()
	if r := e.reverse; r != nil && math.Abs(speed-r.speed) > speedEpsilon {
		r.pipe.UpdateSpeed(speed)
		r.speed = speed
	}

	pendingMatches := e.pendingReverse != nil &&
		e.pendingReverse.timelineClip == hit.Clip.ID && e.pendingReverse.clip == hit.Clip.SourceID
	needsNew := !pendingMatches &&
		(e.reverse == nil || !e.reverse.matches(hit, path) || e.reverse.isStuck(now, &e.tuning))
	if !needsNew {
		return
	}

	if e.reverse == nil && hit.SourceTime-hit.Clip.SourceIn < media.BoundaryThreshold(path) {
		e.reverseTransition(p, hit.Clip, now)
		return
	}

	if e.reverse != nil {
		slog.Info("engine: replacing reverse pipeline",
			"id", e.reverse.pipe.ID(),
			"stuck", e.reverse.isStuck(now, &e.tuning),
			"clip", hit.Clip.ID,
		)
	}
	e.dropReverse()
	e.dropPendingReverse()
	e.spawnReverse(p, hit, path, now)
}

// applyReverseFrame maps a reverse frame onto the timeline. The playhead
// only moves backwards once a frame has been shown.
func (e *Engine) applyReverseFrame(p *timeline.Project, f *media.DecodedFrame, now float64) {
	rev := e.reverse
	hadPrevious := e.lastDecoded != nil && e.lastDecoded.source == SourceReverse
	e.lastDecoded = &decodedMark{pts: f.PTS, source: SourceReverse}
	e.showFrame(f, SourceReverse, p.Playback.Playhead)
	rev.lastFrameTime, rev.hasLastFrame = now, true
	e.updateVideoFPS(now)

	clip, ok := p.Timeline.FindClip(rev.timelineClip)
	if !ok {
		return
	}
	rev.pts.latch(f.PTS, expectedSourceTime(clip, p.Playback.Playhead))
	mapped := rev.pts.mapped(f.PTS)

	if mapped < clip.SourceIn {
		e.reverseTransition(p, clip, now)
		return
	}
	if mapped >= clip.SourceOut {
		return
	}

	pos := clip.TimelineTimeAt(mapped)
	if !hadPrevious || pos <= p.Playback.Playhead {
		p.Playback.Playhead = pos
	}
	if hadPrevious && mapped-clip.SourceIn <= media.BoundaryThreshold(rev.path) {
		e.reverseTransition(p, clip, now)
	}
}

// reverseTransition leaves clip through its in point: promote the reverse
// shadow for the previous clip or open one, and stop at the timeline start.
func (e *Engine) reverseTransition(p *timeline.Project, clip timeline.TimelineClip, now float64) {
	prevTime := max(0, clip.TimelineStart-boundaryEpsilon)
	p.Playback.Playhead = prevTime
	e.dropReverse()
	e.resetAudioSources()

	if prevTime <= 0 {
		p.Playback.Playhead = 0
		p.Playback.Stop()
		slog.Debug("engine: reverse reached timeline start")
		return
	}

	prev, ok := p.Timeline.PreviousClipBefore(clip.ID)
	if !ok {
		p.Playback.Playhead = 0
		p.Playback.Stop()
		slog.Debug("engine: reverse reached first clip", "clip", clip.ID)
		return
	}
	// Gaps are skipped.
	p.Playback.Playhead = min(prevTime, prev.Clip.TimelineTimeAt(prev.SourceTime))

	e.dlog.Event("engine.reverseTransition", "H4", "reverse clip transition", map[string]any{
		"from": clip.ID, "to": prev.Clip.ID, "playhead": p.Playback.Playhead,
	})

	if e.promoteReverseShadow(p, prev.Clip.ID, now) {
		e.tryActivate(now)
		return
	}
	src, ok := p.Source(prev.Clip.SourceID)
	if !ok {
		return
	}
	e.dropPendingReverse()
	e.spawnReverse(p, prev, src.Path, now)
}

func (e *Engine) spawnReverseShadow(ref clipRef, sourceTime, speed, now float64) {
	req := e.reverseRequest(ref.path, sourceTime, speed)
	e.pendingReverseShadow = spawnPending(e.spawn, ref, sourceTime, speed, now,
		func() (VideoPipeline, error) { return e.factory.StartReverse(req) }, closeVideo)
}

func (e *Engine) pollPendingReverseShadow() {
	if e.pendingReverseShadow == nil {
		return
	}
	r, ok := e.pendingReverseShadow.tryRecv()
	if !ok {
		return
	}
	ps := e.pendingReverseShadow
	e.pendingReverseShadow = nil
	if r.err != nil {
		e.counters.openFailures++
		slog.Debug("engine: reverse shadow failed", "path", ps.path, "error", r.err)
		return
	}
	e.dropReverseShadow()
	e.reverseShadow = &reverseShadowState{clipRef: ps.clipRef, pipe: r.value, sourceTime: ps.sourceTime}
	e.reverseShadow.pollFrame()
	e.counters.shadowStarts++
}

func (e *Engine) pollReverseShadowFrame() {
	if e.reverseShadow != nil {
		e.reverseShadow.pollFrame()
	}
}

func (e *Engine) reverseShadowMatches(id timeline.TimelineClipID) bool {
	return (e.reverseShadow != nil && e.reverseShadow.timelineClip == id) ||
		(e.pendingReverseShadow != nil && e.pendingReverseShadow.timelineClip == id)
}

// manageReverseShadow pre-warms the previous clip once the playhead is
// within the lookahead of the current clip's start.
func (e *Engine) manageReverseShadow(p *timeline.Project, now float64) {
	e.pollPendingReverseShadow()
	e.pollReverseShadowFrame()

	rev := e.reverse
	if p.Playback.State != timeline.PlayingReverse || rev == nil {
		return
	}
	prev, ok := p.Timeline.PreviousClipBefore(rev.timelineClip)
	if !ok || e.reverseShadowMatches(prev.Clip.ID) {
		return
	}
	clip, ok := p.Timeline.FindClip(rev.timelineClip)
	if !ok {
		return
	}
	speed := p.Playback.EffectiveSpeed()
	if max(0, p.Playback.Playhead-clip.TimelineStart) > e.tuning.ShadowLookaheadS/speed {
		return
	}
	src, ok := p.Source(prev.Clip.SourceID)
	if !ok {
		return
	}
	e.dropReverseShadow()
	e.dropPendingReverseShadow()
	e.spawnReverseShadow(refFor(prev, src.Path), prev.SourceTime, speed, now)
	slog.Debug("engine: reverse shadow requested", "clip", prev.Clip.ID)
}

// manageReverseShadowForStopped keeps a reverse pipeline warm on the clip
// under a stopped playhead.
func (e *Engine) manageReverseShadowForStopped(p *timeline.Project, now float64) {
	hit, ok := p.Timeline.VideoClipAt(p.Playback.Playhead)
	if !ok {
		return
	}
	if s := e.reverseShadow; s != nil && s.timelineClip == hit.Clip.ID && math.Abs(s.sourceTime-hit.SourceTime) <= stoppedShadowDrift {
		return
	}
	if ps := e.pendingReverseShadow; ps != nil && ps.timelineClip == hit.Clip.ID && math.Abs(ps.sourceTime-hit.SourceTime) <= stoppedShadowDrift {
		return
	}
	src, ok := p.Source(hit.Clip.SourceID)
	if !ok {
		return
	}
	e.dropReverseShadow()
	e.dropPendingReverseShadow()
	e.spawnReverseShadow(refFor(hit, src.Path), hit.SourceTime, p.Playback.EffectiveSpeed(), now)
}

// promoteReverseShadow makes the reverse shadow for id the active reverse
// pipeline.
func (e *Engine) promoteReverseShadow(p *timeline.Project, id timeline.TimelineClipID, now float64) bool {
	s := e.reverseShadow
	if s == nil || s.timelineClip != id {
		return false
	}
	s.pollFrame()
	e.reverseShadow = nil

	rev := &reverseState{
		clipRef:   s.clipRef,
		pipe:      s.pipe,
		speed:     p.Playback.EffectiveSpeed(),
		activated: s.buffered != nil,
		startedAt: now,
	}
	// Rebases the pacer clock, which has been idle since the shadow opened.
	s.pipe.UpdateSpeed(rev.speed)
	e.reverse = rev

	if f := s.buffered; f != nil {
		e.showFrame(f, SourceReverse, p.Playback.Playhead)
		e.lastDecoded = &decodedMark{pts: f.PTS, source: SourceReverse}
		rev.lastFrameTime, rev.hasLastFrame = now, true
		s.buffered = nil
	}
	e.counters.reversePromotions++
	slog.Debug("engine: reverse shadow promoted", "clip", id, "buffered", rev.activated)
	return true
}
