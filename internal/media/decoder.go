package media

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// gopOvershoot tolerates frames slightly past the requested range end.
const gopOvershoot = 0.05

// VideoDecoder decodes single frames on demand at a fixed output size.
type VideoDecoder interface {
	// SeekAndDecode seeks to the keyframe at or before t and returns the
	// first frame after it.
	SeekAndDecode(t float64) (*DecodedFrame, bool)
	// DecodeNextFrame returns the frame after the last one decoded.
	DecodeNextFrame() (*DecodedFrame, bool)
	// LastDecodeTime is the PTS of the last decoded frame, false after a seek.
	LastDecodeTime() (float64, bool)
	// DecodeGOPRange decodes every frame from the keyframe at or before
	// start up to end, in increasing PTS order.
	DecodeGOPRange(start, end float64) []*DecodedFrame
	DurationSeconds() (float64, bool)
	Close() error
}

// VideoOpener opens a decoder for path at the given output size.
type VideoOpener func(path string, width, height int) (VideoDecoder, error)

// FrameDecoder is a paused seekable graph with a non-syncing appsink:
//
//	filesrc → decodebin → videoconvert → videoscale → appsink(RGBA)
//
// Not safe for concurrent use.
type FrameDecoder struct {
	path     string
	width    int
	height   int
	pipeline *gst.Pipeline
	sink     *app.Sink
	playing  bool

	lastTS    float64
	hasLastTS bool
	duration  float64
	hasDur    bool
}

var _ VideoDecoder = (*FrameDecoder)(nil)

// OpenFrameDecoder builds the graph, prerolls it (10 s ceiling) and queries
// the duration.
func OpenFrameDecoder(path string, width, height int) (VideoDecoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("media: invalid decoder size %dx%d", width, height)
	}
	pipeline, decodebin, err := newSourceBin(path)
	if err != nil {
		return nil, err
	}
	videoconvert, err := makeElement("videoconvert")
	if err != nil {
		return nil, err
	}
	videoscale, err := makeElement("videoscale")
	if err != nil {
		return nil, err
	}
	videoscale.SetProperty("add-borders", true)
	sink, err := newAppSink(VideoCaps(width, height), 4, false, false)
	if err != nil {
		return nil, err
	}
	if err := addChain(pipeline, videoconvert, videoscale, sink.Element); err != nil {
		return nil, err
	}
	connectDecodebin(decodebin, videoconvert, nil)

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: failed to set paused: %w", err)
	}
	if err := waitForAsyncDone(pipeline, openTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: decoder preroll failed for %s: %w", path, err)
	}

	d := &FrameDecoder{path: path, width: width, height: height, pipeline: pipeline, sink: sink}
	if ok, ns := pipeline.QueryDuration(gst.FormatTime); ok && ns > 0 {
		d.duration = float64(ns) / float64(time.Second)
		d.hasDur = true
	}
	slog.Debug("media: frame decoder opened", "path", path, "size", fmt.Sprintf("%dx%d", width, height), "duration", d.duration)
	return d, nil
}

func (d *FrameDecoder) ensurePlaying() {
	if d.playing {
		return
	}
	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		slog.Debug("media: decoder failed to play", "path", d.path, "error", err)
	}
	d.playing = true
}

// DurationSeconds returns the container duration when known.
func (d *FrameDecoder) DurationSeconds() (float64, bool) { return d.duration, d.hasDur }

// LastDecodeTime returns the PTS of the last decoded frame.
func (d *FrameDecoder) LastDecodeTime() (float64, bool) { return d.lastTS, d.hasLastTS }

// SeekAndDecode flush-seeks to the keyframe at or before t and decodes one frame.
func (d *FrameDecoder) SeekAndDecode(t float64) (*DecodedFrame, bool) {
	d.ensurePlaying()
	if err := seekTime(d.pipeline, 1, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, secondsToNanos(max(t, 0))); err != nil {
		slog.Debug("media: decoder seek failed", "path", d.path, "t", t, "error", err)
		return nil, false
	}
	d.hasLastTS = false
	return d.DecodeNextFrame()
}

// DecodeNextFrame pulls the next frame, waiting up to 5 s.
func (d *FrameDecoder) DecodeNextFrame() (*DecodedFrame, bool) {
	d.ensurePlaying()
	f, ok := sampleFrame(d.sink.TryPullSample(5*time.Second), d.width, d.height, nil)
	if !ok {
		return nil, false
	}
	d.lastTS = f.PTS
	d.hasLastTS = true
	return f, true
}

// DecodeGOPRange decodes [start, end] starting at the keyframe at or before
// start. Frames past end + 50 ms end the range.
func (d *FrameDecoder) DecodeGOPRange(start, end float64) []*DecodedFrame {
	var frames []*DecodedFrame
	f, ok := d.SeekAndDecode(start)
	for ok && f.PTS <= end+gopOvershoot {
		frames = append(frames, f)
		f, ok = d.DecodeNextFrame()
	}
	return frames
}

// Close releases the pipeline.
func (d *FrameDecoder) Close() error {
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("media: failed to close decoder: %w", err)
	}
	return nil
}
