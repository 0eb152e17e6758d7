// Package clock paces decoded frames against wall time.
package clock

import (
	"sync"
	"time"
)

// MinSpeed is the lowest playback rate the clock accepts.
const MinSpeed = 0.01

// StreamClock maps a frame PTS (seconds, source timebase) to the wall-clock
// delay after which the frame should be presented at the current speed.
//
// The first PTS seen after construction or Reset becomes the origin. Speed
// changes rebase the origin so the virtual PTS stays continuous.
//
// StreamClock is safe for concurrent use.
type StreamClock struct {
	mu        sync.Mutex
	startWall time.Time
	startPTS  float64
	hasStart  bool
	speed     float64
	now       func() time.Time
}

// New creates a clock running at speed (clamped to MinSpeed).
func New(speed float64) *StreamClock {
	return newWithNow(speed, time.Now)
}

func newWithNow(speed float64, now func() time.Time) *StreamClock {
	return &StreamClock{
		startWall: now(),
		speed:     clampSpeed(speed),
		now:       now,
	}
}

func clampSpeed(s float64) float64 {
	if s < MinSpeed {
		return MinSpeed
	}
	return s
}

// Delay returns how long to wait before presenting pts.
//
// On the first call after construction it records pts as the origin and
// returns zero. Afterwards it returns max(0, (pts-origin)/speed - elapsed).
func (c *StreamClock) Delay(pts float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasStart {
		c.startPTS = pts
		c.hasStart = true
		c.startWall = c.now()
		return 0
	}

	target := (pts - c.startPTS) / c.speed
	elapsed := c.now().Sub(c.startWall).Seconds()
	d := target - elapsed
	if d <= 0 {
		return 0
	}
	return time.Duration(d * float64(time.Second))
}

// Reset makes pts the origin at the current wall time.
func (c *StreamClock) Reset(pts float64) {
	c.mu.Lock()
	c.startWall = c.now()
	c.startPTS = pts
	c.hasStart = true
	c.mu.Unlock()
}

// SetSpeed adopts a new rate without a discontinuity in virtual PTS.
func (c *StreamClock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.hasStart {
		elapsed := now.Sub(c.startWall).Seconds()
		c.startPTS += elapsed * c.speed
	}
	c.startWall = now
	c.speed = clampSpeed(speed)
}

// Speed returns the current rate.
func (c *StreamClock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// VirtualPTS returns the PTS the clock considers "now", and false before the
// origin is known.
func (c *StreamClock) VirtualPTS() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasStart {
		return 0, false
	}
	return c.startPTS + c.now().Sub(c.startWall).Seconds()*c.speed, true
}
