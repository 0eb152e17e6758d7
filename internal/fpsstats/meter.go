// Package fpsstats measures frame delivery rates: a windowed meter for live
// display and a batch calculator for delivery stability.
package fpsstats

import (
	"sync"
	"time"
)

// Meter estimates frames per second over fixed windows, smoothing
// successive windows with an exponential moving average (0.8 old, 0.2 new).
type Meter struct {
	mu          sync.Mutex
	window      time.Duration
	windowStart time.Time
	count       int
	fps         float64
	total       uint64
}

// NewMeter creates a meter with the given window (1 s if <= 0).
func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = time.Second
	}
	return &Meter{window: window}
}

// Record counts one frame displayed at now.
func (m *Meter) Record(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	m.count++

	elapsed := now.Sub(m.windowStart)
	if elapsed < m.window {
		return
	}
	inst := float64(m.count) / elapsed.Seconds()
	if m.fps == 0 {
		m.fps = inst
	} else {
		m.fps = m.fps*0.8 + inst*0.2
	}
	m.count = 0
	m.windowStart = now
}

// FPS returns the smoothed rate, zero until a full window has elapsed.
func (m *Meter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// Total returns the frames recorded since creation.
func (m *Meter) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Reset forgets the current window and estimate.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.windowStart = time.Time{}
	m.count = 0
	m.fps = 0
	m.mu.Unlock()
}

// TickRate smooths the interval between engine ticks (0.9 old, 0.1 new).
type TickRate struct {
	last time.Time
	hz   float64
}

// Tick records a tick at now and returns the smoothed rate in Hz.
func (r *TickRate) Tick(now time.Time) float64 {
	if !r.last.IsZero() {
		if dt := now.Sub(r.last).Seconds(); dt > 0 {
			inst := 1 / dt
			if r.hz == 0 {
				r.hz = inst
			} else {
				r.hz = r.hz*0.9 + inst*0.1
			}
		}
	}
	r.last = now
	return r.hz
}

// Hz returns the smoothed tick rate.
func (r *TickRate) Hz() float64 { return r.hz }
