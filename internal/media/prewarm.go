package media

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tinyzimmer/go-gst/gst"
)

const (
	prewarmReadLimit = 16 << 20
	prewarmChunk     = 4 << 20
)

// PrewarmFileSync reads the head of path so the page cache holds it before a
// decoder opens the file. Errors are ignored; it returns the bytes read.
func PrewarmFileSync(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	t0 := time.Now()
	buf := make([]byte, prewarmChunk)
	var total int64
	for total < prewarmReadLimit {
		n, err := f.Read(buf)
		total += int64(n)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("media: prewarm read stopped", "path", path, "error", err)
			}
			break
		}
	}
	slog.Debug("media: file prewarmed",
		"path", path,
		"read", humanize.Bytes(uint64(total)),
		"elapsed", time.Since(t0),
	)
	return total
}

// Prewarm warms the file and decoder plugins for path in the background by
// prerolling a throwaway graph into a fakesink.
func Prewarm(path string) {
	go func() {
		PrewarmFileSync(path)
		if err := prewarmGraph(path); err != nil {
			slog.Debug("media: prewarm graph failed", "path", path, "error", err)
		}
	}()
}

func prewarmGraph(path string) error {
	pipeline, decodebin, err := newSourceBin(path)
	if err != nil {
		return err
	}
	fakesink, err := makeElement("fakesink")
	if err != nil {
		return err
	}
	if err := pipeline.Add(fakesink); err != nil {
		return err
	}
	connectDecodebin(decodebin, fakesink, nil)

	defer pipeline.SetState(gst.StateNull)
	if err := pipeline.SetState(gst.StatePaused); err != nil {
		return err
	}
	return waitForAsyncDone(pipeline, 3*time.Second)
}
