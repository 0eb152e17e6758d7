package engine

import (
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

// expectedSourceTime is the source time a pipeline opened for clip should
// be presenting at playhead.
func expectedSourceTime(clip timeline.TimelineClip, playhead float64) float64 {
	return clip.SourceIn + max(0, playhead-clip.TimelineStart)
}

// positioner maps frame PTS to timeline time through a latched offset.
func positioner(m ptsMap, clip timeline.TimelineClip) func(pts float64) float64 {
	return func(pts float64) float64 { return clip.TimelineTimeAt(m.mapped(pts)) }
}

// pickBestForward returns the index of the newest frame not ahead of the
// playhead, or 0 when every frame is ahead.
func pickBestForward(frames []*media.DecodedFrame, pos func(float64) float64, playhead float64) int {
	best := 0
	for i, f := range frames {
		if pos(f.PTS) <= playhead+pickTolerance {
			best = i
		}
	}
	return best
}

// pickBestReverse walks frames (decreasing PTS) while they are not behind
// the playhead. When the first frame is already behind, the last one wins.
func pickBestReverse(frames []*media.DecodedFrame, pos func(float64) float64, playhead float64) int {
	best := len(frames) - 1
	for i, f := range frames {
		if pos(f.PTS) < playhead-pickTolerance {
			break
		}
		best = i
	}
	return best
}
