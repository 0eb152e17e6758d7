package fpsstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeter_WindowAndEMA(t *testing.T) {
	m := NewMeter(time.Second)
	base := time.Unix(0, 0)

	// 30 fps for the first window
	for i := 0; i <= 30; i++ {
		m.Record(base.Add(time.Duration(i) * time.Second / 30))
	}
	assert.InDelta(t, 31.0, m.FPS(), 0.5)

	// 60 fps for the second window pulls the estimate 20% of the way
	start := base.Add(time.Second)
	for i := 1; i <= 60; i++ {
		m.Record(start.Add(time.Duration(i) * time.Second / 60))
	}
	assert.InDelta(t, 31*0.8+60*0.2, m.FPS(), 0.5)
	assert.Equal(t, uint64(91), m.Total())

	m.Reset()
	assert.Equal(t, 0.0, m.FPS())
}

func TestTickRate(t *testing.T) {
	var r TickRate
	base := time.Unix(0, 0)
	assert.Equal(t, 0.0, r.Tick(base))
	for i := 1; i <= 100; i++ {
		r.Tick(base.Add(time.Duration(i) * 16667 * time.Microsecond))
	}
	assert.InDelta(t, 60, r.Hz(), 0.5)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		intervals  []time.Duration
		wantStable bool
	}{
		{"steady 30fps", repeat(33333*time.Microsecond, 60), true},
		{"bursty", []time.Duration{
			10 * time.Millisecond, 100 * time.Millisecond, 10 * time.Millisecond, 200 * time.Millisecond,
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times := []time.Time{time.Unix(0, 0)}
			var total time.Duration
			for _, iv := range tt.intervals {
				total += iv
				times = append(times, times[len(times)-1].Add(iv))
			}
			st := Calculate(times, total)
			assert.Equal(t, len(times), st.FramesReceived)
			assert.Equal(t, tt.wantStable, st.IsStable)
			assert.LessOrEqual(t, st.FPSMin, st.FPSMax)
			t.Logf("✅ %s: mean=%.1f stddev=%.2f jitter=%.4fs", tt.name, st.FPSMean, st.FPSStdDev, st.JitterMean)
		})
	}
}

func TestCalculate_Empty(t *testing.T) {
	st := Calculate(nil, time.Second)
	assert.Equal(t, 0, st.FramesReceived)
	assert.False(t, st.IsStable)
}

func repeat(d time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}
