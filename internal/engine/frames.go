package engine

import (
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

// pollPipelineFrames drains every frame source once per tick and decides
// what the display shows.
func (e *Engine) pollPipelineFrames(p *timeline.Project, now float64) {
	e.applyDecodeResults(p, now)

	e.pollShadowFrame()
	e.pollForwardFrames(p, now)
	e.pollReverseFrames(p, now)

	e.drainSnippets(p)
	e.drainStartedAudio()
	if e.audioEnabled() {
		e.mixer.MixTick()
	}
}

// shouldApplyFallback reports whether decode-worker frames may reach the
// display: nothing else is delivering.
func (e *Engine) shouldApplyFallback(p *timeline.Project, now float64) bool {
	if p.UI.Scrubbing != nil {
		return true
	}
	switch p.Playback.State {
	case timeline.Stopped:
		return true
	case timeline.Playing:
		return e.forward == nil || e.forward.status(now, &e.tuning).IsStalled()
	case timeline.PlayingReverse:
		return e.reverse == nil || e.reverse.status(now, &e.tuning).IsStalled()
	}
	return false
}

// preserveCurrentFrame reports whether the frame on screen still comes
// from a healthy pipeline or the rewind cache.
func (e *Engine) preserveCurrentFrame(p *timeline.Project, now float64) bool {
	if e.lastDecoded == nil {
		return false
	}
	switch e.lastDecoded.source {
	case SourceForward:
		fwd := e.forward
		return fwd != nil && fwd.frameDelivered && fwd.status(now, &e.tuning) != StatusLongStall
	case SourceReverse:
		rev := e.reverse
		return rev != nil && rev.hasLastFrame && rev.status(now, &e.tuning) != StatusLongStall
	case SourceCache:
		return e.cacheActive(p)
	}
	return false
}

func (e *Engine) cacheActive(p *timeline.Project) bool {
	return p.Playback.State == timeline.PlayingReverse && !e.rewind.IsEmpty()
}

func (e *Engine) applyDecodeResults(p *timeline.Project, now float64) {
	if e.decoder == nil {
		return
	}
	for {
		res, ok := e.decoder.TryRecv()
		if !ok {
			return
		}
		if res.Frame == nil || !e.shouldApplyFallback(p, now) || e.preserveCurrentFrame(p, now) {
			continue
		}
		e.showFrame(res.Frame, SourceDecode, p.Playback.Playhead)
		e.lastDecoded = &decodedMark{pts: res.Frame.PTS, source: SourceDecode}
		e.counters.fallbackFrames++
	}
}

func drainFrames(pipe VideoPipeline) []*media.DecodedFrame {
	var frames []*media.DecodedFrame
	for {
		f, ok := pipe.TryRecvFrame()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

// pollForwardFrames applies the newest forward frame not ahead of the
// playhead. Frames are gated until the pipeline is activated.
func (e *Engine) pollForwardFrames(p *timeline.Project, now float64) {
	fwd := e.forward
	if fwd == nil || !fwd.activated {
		return
	}
	frames := drainFrames(fwd.pipe)
	if len(frames) == 0 {
		return
	}
	pipe := fwd.pipe
	defer func() {
		for _, f := range frames {
			pipe.ReturnBuffer(f.RGBA)
		}
	}()

	best := 0
	if clip, ok := p.Timeline.FindClip(fwd.timelineClip); ok {
		fwd.pts.latch(frames[0].PTS, expectedSourceTime(clip, p.Playback.Playhead))
		best = pickBestForward(frames, positioner(fwd.pts, clip), p.Playback.Playhead)
	}
	e.applyForwardFrame(p, frames[best], now)
}

// pollReverseFrames serves the rewind cache until the reverse pipeline
// yields a frame, then hands the display to the pipeline.
func (e *Engine) pollReverseFrames(p *timeline.Project, now float64) {
	var frames []*media.DecodedFrame
	rev := e.reverse
	if rev != nil && rev.activated {
		frames = drainFrames(rev.pipe)
	}

	if e.cacheActive(p) {
		if len(frames) == 0 {
			e.showCacheEntry(p)
			return
		}
		e.rewind.Clear()
		e.dlog.Event("engine.pollReverseFrames", "H5", "rewind cache handed off", map[string]any{
			"playhead": p.Playback.Playhead, "frames": len(frames),
		})
	}
	if len(frames) == 0 {
		return
	}

	best := len(frames) - 1
	if clip, ok := p.Timeline.FindClip(rev.timelineClip); ok {
		rev.pts.latch(frames[0].PTS, expectedSourceTime(clip, p.Playback.Playhead))
		best = pickBestReverse(frames, positioner(rev.pts, clip), p.Playback.Playhead)
	}
	e.applyReverseFrame(p, frames[best], now)
	for _, f := range frames {
		rev.pipe.ReturnBuffer(f.RGBA)
	}
}

func (e *Engine) showCacheEntry(p *timeline.Project) {
	e.rewind.TrimAbove(p.Playback.Playhead)
	entry, ok := e.rewind.BestEntryForPlayhead(p.Playback.Playhead)
	if !ok {
		return
	}
	if m := e.lastDecoded; m != nil && m.source == SourceCache && m.pts == entry.SourcePTS {
		return
	}
	e.display.SetFrame(entry.RGBA, entry.Width, entry.Height, SourceCache, p.Playback.Playhead)
	e.lastDecoded = &decodedMark{pts: entry.SourcePTS, source: SourceCache}
	e.counters.cacheFrames++
}
