package playback

import (
	"fmt"
	"math"

	"github.com/e7canasta/wizard-playback/internal/remote"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

// Play starts forward playback.
func (p *Player) Play() {
	p.update(func(pr *timeline.Project) { pr.Playback.Play() })
}

// PlayReverse starts reverse playback.
func (p *Player) PlayReverse() {
	p.update(func(pr *timeline.Project) { pr.Playback.PlayReverse() })
}

// StopPlayback halts the transport and keeps the playhead.
func (p *Player) StopPlayback() {
	p.update(func(pr *timeline.Project) { pr.Playback.Stop() })
}

// TogglePlay switches between stopped and forward playback.
func (p *Player) TogglePlay() {
	p.update(func(pr *timeline.Project) { pr.Playback.TogglePlay() })
}

// SetSpeed sets the playback rate.
func (p *Player) SetSpeed(speed float64) error {
	if !(speed > 0) || math.IsInf(speed, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	p.update(func(pr *timeline.Project) { pr.Playback.SetSpeed(speed) })
	return nil
}

// Seek moves the playhead, clamped to [0, duration].
func (p *Player) Seek(t float64) error {
	if !finite(t) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, t)
	}
	p.update(func(pr *timeline.Project) {
		pr.Playback.Seek(min(t, pr.Timeline.Duration()))
	})
	return nil
}

// Scrub moves the scrub handle to t and the playhead with it. A nil t
// releases the handle.
func (p *Player) Scrub(t *float64) error {
	if t == nil {
		p.update(func(pr *timeline.Project) { pr.UI.Scrubbing = nil })
		return nil
	}
	if !finite(*t) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, *t)
	}
	at := max(0, *t)
	p.update(func(pr *timeline.Project) {
		at = min(at, pr.Timeline.Duration())
		pr.UI.Scrubbing = &at
		pr.Playback.Seek(at)
	})
	return nil
}

// Hover places the media-browser pointer over source clipID at normalised
// position t. A nil t clears the hover.
func (p *Player) Hover(clipID string, t *float64) error {
	if t == nil {
		p.update(func(pr *timeline.Project) {
			pr.UI.HoveredClip, pr.UI.HoveredScrubT = nil, nil
		})
		return nil
	}
	if !finite(*t) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, *t)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := timeline.ClipID(clipID)
	if _, ok := p.project.Source(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
	}
	pos := *t
	p.project.UI.HoveredClip, p.project.UI.HoveredScrubT = &id, &pos
	return nil
}

// Playhead returns the current timeline position.
func (p *Player) Playhead() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.project.Playback.Playhead
}

// State returns the transport state.
func (p *Player) State() timeline.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.project.Playback.State
}

func (p *Player) update(fn func(*timeline.Project)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.project)
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// callbacks maps remote commands onto the player.
func (p *Player) callbacks() remote.Callbacks {
	return remote.Callbacks{
		OnPlay:       func() error { p.Play(); return nil },
		OnReverse:    func() error { p.PlayReverse(); return nil },
		OnStop:       func() error { p.StopPlayback(); return nil },
		OnTogglePlay: func() error { p.TogglePlay(); return nil },
		OnSetSpeed:   p.SetSpeed,
		OnSeek:       p.Seek,
		OnScrub:      p.Scrub,
		OnHover:      p.Hover,
		OnGetStatus:  func() interface{} { return p.Stats() },
	}
}
