package engine

import (
	"math"

	"github.com/e7canasta/wizard-playback/internal/timeline"
	"github.com/e7canasta/wizard-playback/internal/workers"
)

// updateHoverAudio previews the source under the pointer in the media
// browser, one snippet per hover bucket.
func (e *Engine) updateHoverAudio(p *timeline.Project) {
	if !e.audioEnabled() || e.snippets == nil {
		return
	}
	ui := p.UI
	if ui.HoveredClip == nil || ui.HoveredScrubT == nil {
		if !p.Playback.IsPlaying() && ui.Scrubbing == nil && e.lastHoverAudioReq != nil {
			e.snippets.StopPreview()
			e.lastHoverAudioReq = nil
		}
		return
	}

	src, ok := p.Source(*ui.HoveredClip)
	if !ok || src.Duration == nil || e.noAudio.Contains(src.Path) {
		return
	}
	t := clamp01(*ui.HoveredScrubT) * *src.Duration
	key := bucketKey{clip: src.ID, bucket: e.bucket(t, e.tuning.HoverAudioBucketRate)}
	if e.lastHoverAudioReq != nil && *e.lastHoverAudioReq == key {
		return
	}
	e.lastHoverAudioReq = &key
	e.snippets.Preview(src.Path, t, e.sampleRate)
}

// updateScrubAudio previews the audio clip under the scrub handle.
func (e *Engine) updateScrubAudio(p *timeline.Project) {
	if !e.audioEnabled() || e.snippets == nil || p.UI.Scrubbing == nil || p.UI.HoveredScrubT != nil {
		return
	}
	hit, ok := p.Timeline.AudioClipAt(*p.UI.Scrubbing)
	if !ok {
		return
	}
	src, ok := p.Source(hit.Clip.SourceID)
	if !ok || e.noAudio.Contains(src.Path) {
		return
	}
	key := bucketKey{clip: src.ID, bucket: e.bucket(hit.SourceTime, e.tuning.ScrubAudioBucketRate)}
	if e.lastScrubAudioReq != nil && *e.lastScrubAudioReq == key {
		return
	}
	e.lastScrubAudioReq = &key
	e.snippets.Preview(src.Path, hit.SourceTime, e.sampleRate)
}

// updatePlaybackFrame asks the decode worker for the frame under the
// playhead whenever no pipeline is delivering.
func (e *Engine) updatePlaybackFrame(p *timeline.Project, now float64) {
	if e.decoder == nil {
		return
	}
	if e.forward != nil && !e.forward.stallStatus(now, &e.tuning).IsStalled() {
		return
	}
	if e.reverse != nil && !e.reverse.stallStatus(now, &e.tuning).IsStalled() {
		return
	}

	scrubbing := p.UI.Scrubbing != nil
	active := p.Playback.State != timeline.Stopped
	moved := math.Abs(p.Playback.Playhead-e.lastPlayheadObserved) > 1e-9
	if !active && !scrubbing && !moved && e.lastVideoDecodeReq != nil {
		return
	}

	t := p.Playback.Playhead
	if scrubbing {
		t = *p.UI.Scrubbing
	}
	hit, ok := p.Timeline.VideoClipAt(t)
	if !ok {
		e.lastVideoDecodeReq = nil
		return
	}
	src, ok := p.Source(hit.Clip.SourceID)
	if !ok {
		return
	}

	key := bucketKey{clip: hit.Clip.SourceID, bucket: e.bucket(hit.SourceTime, e.tuning.VideoDecodeBucketRate)}
	if e.lastVideoDecodeReq != nil && *e.lastVideoDecodeReq == key {
		return
	}
	e.lastVideoDecodeReq = &key

	req := workers.DecodeRequest{
		ClipID:          hit.Clip.SourceID,
		Path:            src.Path,
		Time:            hit.SourceTime,
		Width:           e.tuning.PlaybackDecodeWidth,
		Height:          e.tuning.PlaybackDecodeHeight,
		MaxDecodeFrames: e.tuning.PlaybackMaxDecodeFrames,
	}
	if scrubbing {
		req.Width, req.Height = e.tuning.ScrubDecodeWidth, e.tuning.ScrubDecodeHeight
		req.MaxDecodeFrames = e.tuning.ScrubMaxDecodeFrames
	}
	e.decoder.Request(req)
}

func clamp01(v float64) float64 { return min(max(v, 0), 1) }
