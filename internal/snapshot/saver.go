// Package snapshot writes displayed frames to disk as PNG thumbnails.
package snapshot

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/nfnt/resize"

	"github.com/e7canasta/wizard-playback/internal/display"
)

// Saver writes every Nth displayed frame. Safe for concurrent use.
type Saver struct {
	dir    string
	everyN int
	width  uint

	seen    atomic.Uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
}

// New creates dir if needed. A zero width keeps the frame size; everyN
// below 1 saves every frame.
func New(dir string, everyN int, width uint) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: failed to create output directory: %w", err)
	}
	return &Saver{dir: dir, everyN: max(everyN, 1), width: width}, nil
}

// Run saves frames from ch until ctx is done or ch is closed. Cleared
// frames are not counted.
func (s *Saver) Run(ctx context.Context, ch <-chan display.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			if f.Cleared {
				continue
			}
			if (s.seen.Add(1)-1)%uint64(s.everyN) != 0 {
				continue
			}
			if _, err := s.Save(f); err != nil {
				slog.Warn("snapshot: frame not saved", "seq", f.Seq, "error", err)
			}
		}
	}
}

// Save writes f and returns the file path.
//
// Filename format: frame_{seq:06d}_{source}_{playhead ms}.png
func (s *Saver) Save(f display.Frame) (string, error) {
	img, err := toImage(f)
	if err != nil {
		s.dropped.Add(1)
		return "", err
	}
	var out image.Image = img
	if s.width > 0 && int(s.width) < f.Width {
		out = resize.Resize(s.width, 0, img, resize.Lanczos3)
	}

	name := fmt.Sprintf("frame_%06d_%s_%08d.png", f.Seq, sourceTag(f.Source), int64(f.Playhead*1000))
	path := filepath.Join(s.dir, name)

	file, err := os.Create(path)
	if err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("snapshot: failed to create file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, out); err != nil {
		s.dropped.Add(1)
		return "", fmt.Errorf("snapshot: PNG encode failed: %w", err)
	}
	s.saved.Add(1)
	return path, nil
}

// toImage wraps the RGBA bytes without copying.
func toImage(f display.Frame) (*image.RGBA, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("snapshot: invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * 4; len(f.RGBA) != want {
		return nil, fmt.Errorf("snapshot: invalid RGBA data size: got %d, expected %d", len(f.RGBA), want)
	}
	return &image.RGBA{
		Pix:    f.RGBA,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

func sourceTag(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Stats returns saved and dropped counts.
func (s *Saver) Stats() (saved, dropped uint64) {
	return s.saved.Load(), s.dropped.Load()
}
