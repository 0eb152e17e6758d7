package snapshot

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/wizard-playback/internal/display"
)

func solidFrame(seq uint64, w, h int) display.Frame {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = 200, 40, 40, 255
	}
	return display.Frame{RGBA: pix, Width: w, Height: h, Source: "fwd", Playhead: 1.25, Seq: seq}
}

func TestSave_ResizesToWidth(t *testing.T) {
	s, err := New(t.TempDir(), 1, 32)
	require.NoError(t, err)

	path, err := s.Save(solidFrame(7, 64, 36))
	require.NoError(t, err)
	assert.Equal(t, "frame_000007_fwd_00001250.png", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 18, img.Bounds().Dy(), "aspect preserved")
}

func TestSave_KeepsSmallFrames(t *testing.T) {
	s, err := New(t.TempDir(), 1, 320)
	require.NoError(t, err)

	path, err := s.Save(solidFrame(1, 16, 9))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
}

func TestSave_RejectsBadFrames(t *testing.T) {
	s, err := New(t.TempDir(), 1, 0)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame display.Frame
	}{
		{"empty", display.Frame{}},
		{"short buffer", display.Frame{RGBA: make([]byte, 10), Width: 4, Height: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Save(tt.frame)
			assert.Error(t, err)
		})
	}

	saved, dropped := s.Stats()
	assert.Equal(t, uint64(0), saved)
	assert.Equal(t, uint64(2), dropped)
}

func TestRun_SavesEveryNthFrame(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 3, 0)
	require.NoError(t, err)

	bus := display.NewBus()
	defer bus.Close()
	ch := make(chan display.Frame, 16)
	require.NoError(t, bus.Subscribe("snapshot", ch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ch)
		close(done)
	}()

	frame := solidFrame(0, 8, 8)
	for i := 0; i < 7; i++ {
		bus.SetFrame(frame.RGBA, 8, 8, "fwd", float64(i))
	}
	bus.ClearFrame()

	require.Eventually(t, func() bool {
		saved, _ := s.Stats()
		return saved == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "frames 1, 4 and 7")
	t.Logf("✅ Saved %d of 7 frames", len(entries))
}
