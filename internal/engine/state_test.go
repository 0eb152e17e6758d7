package engine

import (
	"math"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

func TestForwardStatus(t *testing.T) {
	tu := config.DefaultTuning()

	tests := []struct {
		name  string
		state forwardState
		now   float64
		want  PipelineStatus
	}{
		{"starting up", forwardState{startedAt: 0}, 0.3, StatusStartingUp},
		{"slow start", forwardState{startedAt: 0}, 1.0, StatusStalled},
		{"never started", forwardState{startedAt: 0}, 3.0, StatusLongStall},
		{"delivering", forwardState{frameDelivered: true, hasLastFrame: true, lastFrameTime: 1.0}, 1.1, StatusDelivering},
		{"gap", forwardState{frameDelivered: true, hasLastFrame: true, lastFrameTime: 1.0}, 1.5, StatusStalled},
		{"long gap", forwardState{frameDelivered: true, hasLastFrame: true, lastFrameTime: 1.0}, 2.5, StatusLongStall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.state.status(tt.now, &tu)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestForwardStallStatus(t *testing.T) {
	tu := config.DefaultTuning()

	fresh := forwardState{startedAt: 0}
	assert.Equal(t, StatusStartingUp, fresh.stallStatus(0.4, &tu))
	assert.Equal(t, StatusStalled, fresh.stallStatus(0.6, &tu))

	live := forwardState{frameDelivered: true, hasLastFrame: true, lastFrameTime: 1.0}
	assert.Equal(t, StatusDelivering, live.stallStatus(1.4, &tu))
	assert.Equal(t, StatusStalled, live.stallStatus(1.6, &tu))
}

func TestReverseStatusAndStuck(t *testing.T) {
	tu := config.DefaultTuning()
	tu.ReverseStartupTimeoutS = 0.5

	tests := []struct {
		name   string
		state  reverseState
		now    float64
		status PipelineStatus
		stuck  bool
	}{
		{"starting", reverseState{startedAt: 0}, 0.2, StatusStartingUp, false},
		{"timeout floored", reverseState{startedAt: 0}, 1.2, StatusStalled, false},
		{"never delivered", reverseState{startedAt: 0}, 1.6, StatusStalled, true},
		{"delivering", reverseState{hasLastFrame: true, lastFrameTime: 5}, 5.1, StatusDelivering, false},
		{"long stall", reverseState{hasLastFrame: true, lastFrameTime: 5}, 6.5, StatusLongStall, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.state.status(tt.now, &tu))
			assert.Equal(t, tt.stuck, tt.state.isStuck(tt.now, &tu))
		})
	}
}

func TestPipelineStatus_String(t *testing.T) {
	assert.Equal(t, "starting_up", StatusStartingUp.String())
	assert.Equal(t, "long_stall", StatusLongStall.String())
	assert.Equal(t, "unknown", PipelineStatus(42).String())
	assert.True(t, StatusStalled.IsStalled())
	assert.True(t, StatusLongStall.IsStalled())
	assert.False(t, StatusDelivering.IsStalled())
}

func TestPTSMap_LatchOnce(t *testing.T) {
	var m ptsMap
	assert.Equal(t, 7.5, m.mapped(7.5), "identity before the latch")

	assert.Equal(t, 2.0, m.latch(12.0, 10.0))
	assert.Equal(t, 2.0, m.latch(50.0, 10.0), "second latch ignored")
	assert.Equal(t, 10.5, m.mapped(12.5))
}

// map(offset + in + d) == start + d for d in [0, duration).
func TestPTSMap_TimelineLaw(t *testing.T) {
	law := func(offset, in, start, d float64) bool {
		offset = math.Mod(math.Abs(offset), 1000)
		in = math.Mod(math.Abs(in), 1000)
		start = math.Mod(math.Abs(start), 1000)
		d = math.Mod(math.Abs(d), 60)
		if math.IsNaN(offset + in + start + d) {
			return true
		}

		clip := timeline.TimelineClip{TimelineStart: start, Duration: 60, SourceIn: in, SourceOut: in + 60}
		var m ptsMap
		m.latch(offset+in, in)
		pos := positioner(m, clip)(offset + in + d)
		return math.Abs(pos-(start+d)) < 1e-6
	}
	require.NoError(t, quick.Check(law, nil))
}

func TestPickBestForward(t *testing.T) {
	pos := func(pts float64) float64 { return pts }
	frames := framesAt(1.0, 1.02, 1.04, 1.2)

	tests := []struct {
		name     string
		playhead float64
		want     int
	}{
		{"newest within tolerance", 1.0, 2},
		{"everything behind", 2.0, 3},
		{"everything ahead", 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickBestForward(frames, pos, tt.playhead))
		})
	}
}

func TestPickBestReverse(t *testing.T) {
	pos := func(pts float64) float64 { return pts }
	frames := framesAt(3.0, 2.96, 2.9, 2.8)

	tests := []struct {
		name     string
		playhead float64
		want     int
	}{
		{"furthest not behind", 3.0, 1},
		{"first already behind", 3.5, 3},
		{"all ahead", 2.5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickBestReverse(frames, pos, tt.playhead))
		})
	}
}

func TestExpectedSourceTime(t *testing.T) {
	clip := clipAt("c", "s", 5, 5, 20)
	assert.Equal(t, 20.0, expectedSourceTime(clip, 3.0), "clamped before the clip")
	assert.Equal(t, 21.5, expectedSourceTime(clip, 6.5))
}

func TestPending_DiscardReleasesLateResult(t *testing.T) {
	gate := make(chan struct{})
	released := make(chan int, 1)
	spawn := func(f func()) { go f() }

	p := spawnPending(spawn, clipRef{}, 0, 1, 0, func() (int, error) {
		<-gate
		return 42, nil
	}, func(v int) { released <- v })

	_, ok := p.tryRecv()
	assert.False(t, ok, "open still running")

	p.discard()
	close(gate)

	select {
	case v := <-released:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("discarded pipeline never released")
	}
	t.Logf("✅ Late open released")
}

func framesAt(pts ...float64) []*media.DecodedFrame {
	out := make([]*media.DecodedFrame, 0, len(pts))
	for _, p := range pts {
		out = append(out, frameAt(p))
	}
	return out
}
