package timeline

// Playback is the transport: state, playhead (timeline seconds) and speed.
type Playback struct {
	State    State
	Playhead float64
	Speed    float64
}

// IsPlaying reports whether the transport moves in either direction.
func (p *Playback) IsPlaying() bool {
	return p.State == Playing || p.State == PlayingReverse
}

// EffectiveSpeed returns Speed, or 1 when unset.
func (p *Playback) EffectiveSpeed() float64 {
	if p.Speed <= 0 {
		return 1
	}
	return p.Speed
}

// Advance moves the playhead by dt wall seconds at the current speed and
// stops at either end of [0, duration].
func (p *Playback) Advance(dt, duration float64) {
	switch p.State {
	case Playing:
		p.Playhead += dt * p.EffectiveSpeed()
		if p.Playhead >= duration {
			p.Playhead = max(duration, 0)
			p.State = Stopped
		}
	case PlayingReverse:
		p.Playhead -= dt * p.EffectiveSpeed()
		if p.Playhead <= 0 {
			p.Playhead = 0
			p.State = Stopped
		}
	}
}

// TogglePlay switches between Stopped and Playing. Reverse goes to Stopped.
func (p *Playback) TogglePlay() {
	if p.State == Stopped {
		p.State = Playing
		return
	}
	p.State = Stopped
}

// Play starts forward playback.
func (p *Playback) Play() { p.State = Playing }

// PlayReverse starts reverse playback.
func (p *Playback) PlayReverse() { p.State = PlayingReverse }

// Stop halts playback, keeping the playhead.
func (p *Playback) Stop() { p.State = Stopped }

// Seek moves the playhead, clamped at 0.
func (p *Playback) Seek(t float64) { p.Playhead = max(t, 0) }

// SetSpeed sets a positive speed.
func (p *Playback) SetSpeed(s float64) {
	if s > 0 {
		p.Speed = s
	}
}
