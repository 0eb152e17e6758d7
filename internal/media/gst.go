// Package media builds the GStreamer decode graphs used for playback:
// forward and reverse video pipelines, audio-only pipelines, and on-demand
// frame and audio decoders.
package media

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const (
	prerollTimeout = 5 * time.Second
	openTimeout    = 10 * time.Second
)

var (
	// ErrNoAudioStream is returned when a file has no decodable audio.
	ErrNoAudioStream = errors.New("media: no audio stream")
	// ErrInvalidPath is returned for empty or unreadable paths.
	ErrInvalidPath = errors.New("media: invalid path")
	// ErrSeekFailed is returned when no element in the graph handled a seek.
	ErrSeekFailed = errors.New("media: seek failed")
)

var initOnce sync.Once

// ensureInit initialises GStreamer once per process.
func ensureInit() {
	initOnce.Do(func() {
		gst.Init(nil)
		slog.Debug("media: gstreamer initialized")
	})
}

func makeElement(name string) (*gst.Element, error) {
	el, err := gst.NewElement(name)
	if err != nil {
		return nil, fmt.Errorf("media: failed to create %s: %w", name, err)
	}
	return el, nil
}

// VideoCaps returns RGBA raw video caps at the target size.
func VideoCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", width, height)
}

// AudioCaps returns mono interleaved F32LE caps at sampleRate.
func AudioCaps(sampleRate int) string {
	return fmt.Sprintf("audio/x-raw,format=F32LE,layout=interleaved,channels=1,rate=%d", sampleRate)
}

// newSourceBin creates filesrc ! decodebin inside a fresh pipeline.
func newSourceBin(path string) (*gst.Pipeline, *gst.Element, error) {
	if path == "" {
		return nil, nil, ErrInvalidPath
	}
	ensureInit()

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("media: failed to create pipeline: %w", err)
	}
	filesrc, err := makeElement("filesrc")
	if err != nil {
		return nil, nil, err
	}
	filesrc.SetProperty("location", path)

	decodebin, err := makeElement("decodebin")
	if err != nil {
		return nil, nil, err
	}
	if err := pipeline.AddMany(filesrc, decodebin); err != nil {
		return nil, nil, fmt.Errorf("media: failed to add source elements: %w", err)
	}
	if err := filesrc.Link(decodebin); err != nil {
		return nil, nil, fmt.Errorf("media: failed to link filesrc: %w", err)
	}
	return pipeline, decodebin, nil
}

// newAppSink creates an appsink constrained to caps.
func newAppSink(caps string, maxBuffers uint, drop, sync bool) (*app.Sink, error) {
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("media: failed to create appsink: %w", err)
	}
	sink.SetCaps(gst.NewCapsFromString(caps))
	sink.SetProperty("max-buffers", maxBuffers)
	sink.SetProperty("drop", drop)
	sink.SetProperty("sync", sync)
	return sink, nil
}

// addChain adds elements to the pipeline and links them in order.
func addChain(pipeline *gst.Pipeline, elems ...*gst.Element) error {
	if err := pipeline.AddMany(elems...); err != nil {
		return fmt.Errorf("media: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(elems...); err != nil {
		return fmt.Errorf("media: failed to link elements: %w", err)
	}
	return nil
}

// connectDecodebin links decodebin's dynamic pads by media kind. A nil
// target skips that kind. Only the first pad of each kind is linked.
func connectDecodebin(decodebin, video, audio *gst.Element) {
	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		caps := srcPad.GetCurrentCaps()
		if caps == nil {
			caps = srcPad.QueryCaps(nil)
		}
		if caps == nil || caps.GetSize() == 0 {
			return
		}
		name := caps.GetStructureAt(0).Name()

		var target *gst.Element
		switch {
		case strings.HasPrefix(name, "video/"):
			target = video
		case strings.HasPrefix(name, "audio/"):
			target = audio
		}
		if target == nil {
			return
		}

		sinkPad := target.GetStaticPad("sink")
		if sinkPad == nil || sinkPad.IsLinked() {
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Warn("media: failed to link decodebin pad",
				"pad", srcPad.GetName(),
				"caps", name,
				"ret", ret,
			)
		}
	})
}

// waitForAsyncDone pops bus messages until ASYNC_DONE or an error. Running
// out of time is not an error: the pipeline may still be prerolling.
func waitForAsyncDone(pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		msg := bus.TimedPop(remaining)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageAsyncDone:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return &PipelineError{Category: ClassifyGStreamerError(gerr), Message: gerr.Error()}
		}
	}
}

func secondsToNanos(s float64) int64 { return int64(s * float64(time.Second)) }

// seekTime sends a time-format seek to pos (nanoseconds) at rate. The stop
// position is left open.
func seekTime(pipeline *gst.Pipeline, rate float64, flags gst.SeekFlags, pos int64) error {
	ev := gst.NewSeekEvent(rate, gst.FormatTime, flags, gst.SeekTypeSet, pos, gst.SeekTypeNone, -1)
	if !pipeline.SendEvent(ev) {
		return fmt.Errorf("%w: rate=%.2f pos=%dns", ErrSeekFailed, rate, pos)
	}
	return nil
}

// prerollAndSeek pauses the pipeline, waits for preroll, seeks to start and
// applies a non-unity rate.
func prerollAndSeek(pipeline *gst.Pipeline, start, speed float64) error {
	t0 := time.Now()
	if err := pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("media: failed to set paused: %w", err)
	}
	if err := waitForAsyncDone(pipeline, prerollTimeout); err != nil {
		return fmt.Errorf("media: preroll failed: %w", err)
	}
	pausedAt := time.Since(t0)

	if start > 0.01 {
		if err := seekTime(pipeline, 1, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, secondsToNanos(start)); err != nil {
			return fmt.Errorf("media: seek to %.3fs: %w", start, err)
		}
		if err := waitForAsyncDone(pipeline, prerollTimeout); err != nil {
			return fmt.Errorf("media: seek failed: %w", err)
		}
	}

	if speed > 0 && math.Abs(speed-1) > 0.01 {
		pos := int64(0)
		if ok, cur := pipeline.QueryPosition(gst.FormatTime); ok {
			pos = cur
		}
		if err := seekTime(pipeline, speed, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, pos); err != nil {
			return fmt.Errorf("media: rate seek to %.2fx: %w", speed, err)
		}
		_ = waitForAsyncDone(pipeline, prerollTimeout)
	}

	slog.Debug("media: preroll complete",
		"start", start,
		"speed", speed,
		"paused_ms", pausedAt.Milliseconds(),
		"total_ms", time.Since(t0).Milliseconds(),
	)
	return nil
}

// sampleFrame copies a video sample into a buffer of exactly w*h*4 bytes,
// zero-padding short buffers and truncating long ones.
func sampleFrame(sample *gst.Sample, width, height int, pool *BufferPool) (*DecodedFrame, bool) {
	if sample == nil {
		return nil, false
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, false
	}

	pts := 0.0
	if p := buffer.PresentationTimestamp(); p >= 0 {
		pts = p.Seconds()
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, false
	}
	data := mapInfo.Bytes()
	expected := width * height * 4

	var rgba []byte
	if pool != nil {
		rgba = pool.Get(expected)
	} else {
		rgba = make([]byte, expected)
	}
	n := copy(rgba, data)
	clear(rgba[n:])
	buffer.Unmap()

	return &DecodedFrame{PTS: pts, Width: width, Height: height, RGBA: rgba}, true
}

// sampleAudio decodes an F32LE mono sample into float32 values.
func sampleAudio(sample *gst.Sample, dst []float32) ([]float32, float64, float64) {
	if sample == nil {
		return dst, 0, 0
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return dst, 0, 0
	}
	pts, dur := 0.0, 0.0
	if p := buffer.PresentationTimestamp(); p >= 0 {
		pts = p.Seconds()
	}
	if d := buffer.Duration(); d >= 0 {
		dur = d.Seconds()
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return dst, pts, dur
	}
	dst = appendF32LE(dst, mapInfo.Bytes())
	buffer.Unmap()
	return dst, pts, dur
}
