package engine

import (
	"log/slog"
	"math"

	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/rewind"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

func refFor(hit timeline.PlayheadHit, path string) clipRef {
	return clipRef{clip: hit.Clip.SourceID, path: path, timelineClip: hit.Clip.ID}
}

func (e *Engine) forwardRequest(path string, sourceTime, speed float64) ForwardRequest {
	return ForwardRequest{
		Path:      path,
		StartTime: sourceTime,
		Width:     e.tuning.PlaybackDecodeWidth,
		Height:    e.tuning.PlaybackDecodeHeight,
		Speed:     speed,
	}
}

// startPipeline opens a forward pipeline for hit and bridges the gap with
// the last decoded frame for that position.
func (e *Engine) startPipeline(p *timeline.Project, hit timeline.PlayheadHit, path string, now float64) {
	e.resetAudioSources()

	speed := p.Playback.EffectiveSpeed()
	req := e.forwardRequest(path, hit.SourceTime, speed)
	e.pendingForward = spawnPending(e.spawn, refFor(hit, path), hit.SourceTime, speed, now,
		func() (VideoPipeline, error) { return e.factory.StartForward(req) }, closeVideo)
	e.counters.forwardStarts++

	slog.Debug("engine: forward pipeline requested",
		"clip", hit.Clip.ID,
		"path", path,
		"source_time", hit.SourceTime,
		"speed", speed,
	)

	e.showBridgeFrame(hit.Clip.SourceID, hit.SourceTime, p.Playback.Playhead)
	e.lastVideoDecodeReq = nil
	e.startAudioSources(p)

	if hit.Clip.End()-p.Playback.Playhead < e.tuning.ShadowLookaheadS/speed {
		e.manageShadow(p, now)
	}
}

func (e *Engine) pollPendingForward(now float64) {
	if e.pendingForward == nil {
		return
	}
	r, ok := e.pendingForward.tryRecv()
	if !ok {
		return
	}
	pf := e.pendingForward
	e.pendingForward = nil
	if r.err != nil {
		e.counters.openFailures++
		slog.Warn("engine: forward pipeline failed", "path", pf.path, "error", r.err)
		e.dlog.Event("engine.pollPendingForward", "H2", "forward open failed", map[string]any{
			"path": pf.path, "sourceTime": pf.sourceTime, "error": r.err.Error(),
		})
		return
	}
	e.forward = &forwardState{
		clipRef:   pf.clipRef,
		pipe:      r.value,
		speed:     pf.speed,
		startedAt: pf.startedAt,
	}
	e.tryActivate(now)
}

func (e *Engine) spawnShadow(ref clipRef, sourceTime, speed, now float64, plans []audioPlan) {
	req := e.forwardRequest(ref.path, sourceTime, speed)
	e.pendingShadow = spawnPending(e.spawn, ref, sourceTime, speed, now, func() (shadowBuild, error) {
		pipe, err := e.factory.StartForward(req)
		if err != nil {
			return shadowBuild{}, err
		}
		return shadowBuild{pipe: pipe, audio: e.buildShadowAudio(plans)}, nil
	}, closeShadowBuild)
}

func (e *Engine) pollPendingShadow() {
	if e.pendingShadow == nil {
		return
	}
	r, ok := e.pendingShadow.tryRecv()
	if !ok {
		return
	}
	ps := e.pendingShadow
	e.pendingShadow = nil
	if r.err != nil {
		e.counters.openFailures++
		slog.Debug("engine: shadow pipeline failed", "path", ps.path, "error", r.err)
		return
	}
	e.dropShadow()
	e.shadow = &shadowState{
		clipRef:    ps.clipRef,
		pipe:       r.value.pipe,
		sourceTime: ps.sourceTime,
		audio:      r.value.audio,
	}
	e.shadow.pollFrame()
	e.counters.shadowStarts++
}

func (e *Engine) pollShadowFrame() {
	if e.shadow != nil {
		e.shadow.pollFrame()
	}
}

// manageShadow pre-warms the clip after the forward one once the playhead
// is within the lookahead of the boundary.
func (e *Engine) manageShadow(p *timeline.Project, now float64) {
	e.pollPendingShadow()
	e.pollShadowFrame()

	fwd := e.forward
	if p.Playback.State != timeline.Playing || fwd == nil {
		return
	}
	next, ok := p.Timeline.NextClipAfter(fwd.timelineClip)
	if !ok {
		return
	}
	if e.shadow != nil && e.shadow.timelineClip == next.Clip.ID {
		return
	}
	if e.pendingShadow != nil && e.pendingShadow.timelineClip == next.Clip.ID {
		return
	}

	speed := p.Playback.EffectiveSpeed()
	remaining, ok := p.Timeline.TimeRemainingInClip(fwd.timelineClip, p.Playback.Playhead)
	if !ok || remaining > e.tuning.ShadowLookaheadS/speed {
		return
	}
	src, ok := p.Source(next.Clip.SourceID)
	if !ok {
		return
	}

	e.dropShadow()
	e.dropPendingShadow()

	var plans []audioPlan
	if e.audioEnabled() {
		if cur, ok := p.Timeline.FindClip(fwd.timelineClip); ok {
			plans = e.planAudio(p, cur.End())
		}
	}
	e.spawnShadow(refFor(next, src.Path), next.SourceTime, speed, now, plans)

	slog.Debug("engine: shadow requested",
		"clip", next.Clip.ID,
		"remaining_s", remaining,
		"audio_sources", len(plans),
	)
}

// manageShadowForStopped keeps a paused pipeline on the clip under a
// stopped playhead so that Play promotes instead of opening.
func (e *Engine) manageShadowForStopped(p *timeline.Project, now float64) {
	hit, ok := p.Timeline.VideoClipAt(p.Playback.Playhead)
	if !ok {
		return
	}
	src, ok := p.Source(hit.Clip.SourceID)
	if !ok {
		return
	}
	if s := e.shadow; s != nil && s.timelineClip == hit.Clip.ID && math.Abs(s.sourceTime-hit.SourceTime) <= stoppedShadowDrift {
		return
	}
	if ps := e.pendingShadow; ps != nil && ps.timelineClip == hit.Clip.ID && math.Abs(ps.sourceTime-hit.SourceTime) <= stoppedShadowDrift {
		return
	}
	e.dropShadow()
	e.dropPendingShadow()
	e.spawnShadow(refFor(hit, src.Path), hit.SourceTime, p.Playback.EffectiveSpeed(), now, nil)
}

// promoteShadow turns the shadow into the forward pipeline at nextTime.
func (e *Engine) promoteShadow(p *timeline.Project, nextTime float64, next timeline.PlayheadHit, now float64) bool {
	s := e.shadow
	if s == nil || s.timelineClip != next.Clip.ID {
		return false
	}
	s.pollFrame()
	e.shadow = nil

	s.pipe.BeginPlaying()
	fwd := &forwardState{
		clipRef:   s.clipRef,
		pipe:      s.pipe,
		speed:     p.Playback.EffectiveSpeed(),
		activated: true,
		startedAt: now,
	}
	e.forward = fwd
	p.Playback.Playhead = nextTime

	if f := s.buffered; f != nil {
		e.showFrame(f, SourceForward, nextTime)
		e.lastDecoded = &decodedMark{pts: f.PTS, source: SourceForward}
		fwd.frameDelivered = true
		fwd.lastFrameTime, fwd.hasLastFrame = now, true
		s.pipe.ReturnBuffer(f.RGBA)
		s.buffered = nil
	} else {
		e.showBridgeFrame(next.Clip.SourceID, next.SourceTime, nextTime)
		e.lastVideoDecodeReq = nil
	}

	if len(s.audio) > 0 && e.audioEnabled() {
		e.beginShadowAudio(s.audio)
	} else {
		for _, src := range s.audio {
			_ = src.Close()
		}
		e.resetAudioSources()
		e.startAudioSources(p)
	}

	e.counters.promotions++
	slog.Debug("engine: shadow promoted",
		"clip", next.Clip.ID,
		"playhead", nextTime,
		"buffered", fwd.frameDelivered,
	)
	e.dlog.Event("engine.promoteShadow", "H1", "shadow promoted", map[string]any{
		"clip": next.Clip.ID, "playhead": nextTime, "buffered": fwd.frameDelivered,
	})
	return true
}

// applyForwardFrame maps a forward frame onto the timeline. A frame at or
// past the clip's out point ends the clip once the playhead has caught up.
func (e *Engine) applyForwardFrame(p *timeline.Project, f *media.DecodedFrame, now float64) {
	fwd := e.forward
	e.lastDecoded = &decodedMark{pts: f.PTS, source: SourceForward}
	e.showFrame(f, SourceForward, p.Playback.Playhead)

	clip, ok := p.Timeline.FindClip(fwd.timelineClip)
	if !ok {
		fwd.lastFrameTime, fwd.hasLastFrame = now, true
		e.updateVideoFPS(now)
		return
	}

	fwd.pts.latch(f.PTS, expectedSourceTime(clip, p.Playback.Playhead))
	mapped := fwd.pts.mapped(f.PTS)

	if mapped >= clip.SourceOut {
		if p.Playback.Playhead >= clip.End()-promotionSlack && fwd.age >= minAgeForClipChange {
			e.crossForwardBoundary(p, clip, now)
			return
		}
		fwd.lastFrameTime, fwd.hasLastFrame = now, true
		return
	}

	if mapped >= clip.SourceIn {
		if !fwd.frameDelivered {
			p.Playback.Playhead = clip.TimelineTimeAt(mapped)
		}
		fwd.frameDelivered = true
		if p.Playback.State == timeline.Playing {
			e.rewind.Push(rewind.Entry{
				TimelinePos:    clip.TimelineTimeAt(mapped),
				SourcePTS:      f.PTS,
				ClipID:         fwd.clip,
				TimelineClipID: fwd.timelineClip,
				Width:          f.Width,
				Height:         f.Height,
				RGBA:           append([]byte(nil), f.RGBA...),
			})
		}
	}

	fwd.lastFrameTime, fwd.hasLastFrame = now, true
	e.updateVideoFPS(now)
}

func (e *Engine) crossForwardBoundary(p *timeline.Project, clip timeline.TimelineClip, now float64) {
	end := clip.End()
	p.Playback.Playhead = end
	e.dropForward()

	next, ok := p.Timeline.VideoClipAt(end)
	if !ok {
		e.resetAudioSources()
		return
	}
	if e.promoteShadow(p, end, next, now) {
		return
	}
	if src, ok := p.Source(next.Clip.SourceID); ok {
		e.dropShadow()
		e.dropPendingShadow()
		e.startPipeline(p, next, src.Path, now)
	}
}
