package timeline

import (
	"github.com/samber/lo"
)

// boundaryEpsilon absorbs float error when testing clip adjacency.
const boundaryEpsilon = 0.001

// Timeline is the track composition. Later video tracks are drawn on top.
type Timeline struct {
	VideoTracks []Track
	AudioTracks []Track
}

func hitAt(track TrackID, c TimelineClip, t float64) PlayheadHit {
	return PlayheadHit{TrackID: track, Clip: c, SourceTime: c.SourceTimeAt(t)}
}

// VideoClipAt returns the top-most video clip covering t.
func (tl *Timeline) VideoClipAt(t float64) (PlayheadHit, bool) {
	for i := len(tl.VideoTracks) - 1; i >= 0; i-- {
		tr := tl.VideoTracks[i]
		if c, ok := lo.Find(tr.Clips, func(c TimelineClip) bool { return c.Covers(t) }); ok {
			return hitAt(tr.ID, c, t), true
		}
	}
	return PlayheadHit{}, false
}

// AudioClipsAt returns every clip on an unmuted audio track covering t.
func (tl *Timeline) AudioClipsAt(t float64) []PlayheadHit {
	var hits []PlayheadHit
	for _, tr := range tl.AudioTracks {
		if tr.Muted {
			continue
		}
		for _, c := range tr.Clips {
			if c.Covers(t) {
				hits = append(hits, hitAt(tr.ID, c, t))
			}
		}
	}
	return hits
}

// AudioClipAt returns the first audio clip covering t.
func (tl *Timeline) AudioClipAt(t float64) (PlayheadHit, bool) {
	hits := tl.AudioClipsAt(t)
	if len(hits) == 0 {
		return PlayheadHit{}, false
	}
	return hits[0], true
}

// HasUnmutedAudioAt reports whether any unmuted audio clip covers t.
func (tl *Timeline) HasUnmutedAudioAt(t float64) bool {
	return len(tl.AudioClipsAt(t)) > 0
}

func (tl *Timeline) allTracks() []Track {
	return append(append([]Track(nil), tl.VideoTracks...), tl.AudioTracks...)
}

func (tl *Timeline) locate(id TimelineClipID) (Track, TimelineClip, bool) {
	for _, tr := range tl.allTracks() {
		if c, ok := lo.Find(tr.Clips, func(c TimelineClip) bool { return c.ID == id }); ok {
			return tr, c, true
		}
	}
	return Track{}, TimelineClip{}, false
}

// FindClip returns the clip with id on any track.
func (tl *Timeline) FindClip(id TimelineClipID) (TimelineClip, bool) {
	_, c, ok := tl.locate(id)
	return c, ok
}

// NextClipAfter returns the clip that follows id on the same track, hit at
// its first frame.
func (tl *Timeline) NextClipAfter(id TimelineClipID) (PlayheadHit, bool) {
	tr, cur, ok := tl.locate(id)
	if !ok {
		return PlayheadHit{}, false
	}
	after := lo.Filter(tr.Clips, func(c TimelineClip, _ int) bool {
		return c.ID != id && c.TimelineStart >= cur.End()-boundaryEpsilon
	})
	if len(after) == 0 {
		return PlayheadHit{}, false
	}
	next := lo.MinBy(after, func(a, b TimelineClip) bool { return a.TimelineStart < b.TimelineStart })
	return hitAt(tr.ID, next, next.TimelineStart), true
}

// PreviousClipBefore returns the clip that precedes id on the same track, hit
// just before its end.
func (tl *Timeline) PreviousClipBefore(id TimelineClipID) (PlayheadHit, bool) {
	tr, cur, ok := tl.locate(id)
	if !ok {
		return PlayheadHit{}, false
	}
	before := lo.Filter(tr.Clips, func(c TimelineClip, _ int) bool {
		return c.ID != id && c.End() <= cur.TimelineStart+boundaryEpsilon
	})
	if len(before) == 0 {
		return PlayheadHit{}, false
	}
	prev := lo.MaxBy(before, func(a, b TimelineClip) bool { return a.End() > b.End() })
	t := max(prev.TimelineStart, prev.End()-boundaryEpsilon)
	return hitAt(tr.ID, prev, t), true
}

// TimeRemainingInClip returns End(id) - t.
func (tl *Timeline) TimeRemainingInClip(id TimelineClipID, t float64) (float64, bool) {
	c, ok := tl.FindClip(id)
	if !ok {
		return 0, false
	}
	return c.End() - t, true
}

// Duration returns the end of the last clip on any track.
func (tl *Timeline) Duration() float64 {
	d := 0.0
	for _, tr := range tl.allTracks() {
		for _, c := range tr.Clips {
			d = max(d, c.End())
		}
	}
	return d
}
