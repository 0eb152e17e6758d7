// Package timeline is the read-mostly project model consumed by the playback
// engine: sources, tracks of placed clips, transport state and the UI inputs
// that drive previews.
package timeline

import "fmt"

// ClipID identifies an imported media source.
type ClipID string

// TimelineClipID identifies one placement of a source on a track.
type TimelineClipID string

// TrackID identifies a track.
type TrackID string

// State is the transport state.
type State int

const (
	Stopped State = iota
	Playing
	PlayingReverse
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case PlayingReverse:
		return "playing_reverse"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source is an imported media file.
type Source struct {
	ID       ClipID
	Path     string
	Duration *float64
}

// TimelineClip is a source placed on a track.
//
// SourceOut - SourceIn == Duration.
type TimelineClip struct {
	ID            TimelineClipID
	SourceID      ClipID
	TimelineStart float64
	Duration      float64
	SourceIn      float64
	SourceOut     float64
}

// End returns the timeline time just past the clip.
func (c TimelineClip) End() float64 { return c.TimelineStart + c.Duration }

// Covers reports whether t falls inside [TimelineStart, End).
func (c TimelineClip) Covers(t float64) bool {
	return t >= c.TimelineStart && t < c.End()
}

// SourceTimeAt maps a timeline time to source time.
func (c TimelineClip) SourceTimeAt(t float64) float64 {
	return c.SourceIn + (t - c.TimelineStart)
}

// TimelineTimeAt maps a source time to timeline time.
func (c TimelineClip) TimelineTimeAt(src float64) float64 {
	return c.TimelineStart + (src - c.SourceIn)
}

// Track is an ordered lane of clips.
type Track struct {
	ID    TrackID
	Muted bool
	Clips []TimelineClip
}

// PlayheadHit is the result of a timeline lookup.
type PlayheadHit struct {
	TrackID    TrackID
	Clip       TimelineClip
	SourceTime float64
}

// UI carries the inputs the engine reads from the interface layer.
type UI struct {
	// Scrubbing is the timeline time under the scrub handle, nil when idle.
	Scrubbing *float64
	// HoveredClip is the source under the pointer in the media browser.
	HoveredClip *ClipID
	// HoveredScrubT is the normalised [0,1] position over HoveredClip.
	HoveredScrubT *float64
}

// Project is the state the engine reads each tick. Only Playback.Playhead
// and Playback.State are written by the engine.
type Project struct {
	Playback Playback
	Timeline Timeline
	Sources  map[ClipID]Source
	UI       UI
}

// Source returns the source for id.
func (p *Project) Source(id ClipID) (Source, bool) {
	s, ok := p.Sources[id]
	return s, ok
}
