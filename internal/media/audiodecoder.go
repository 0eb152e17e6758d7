package media

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"github.com/tinyzimmer/go-gst/gst/pbutils"
)

const (
	audioSeekTimeout = 5 * time.Second
	audioPullTimeout = 3 * time.Second
	discoverTimeout  = 5 * time.Second
)

// AudioDecoder extracts mono PCM ranges on demand.
type AudioDecoder interface {
	// DecodeRangeMonoF32 returns about duration seconds of mono samples
	// starting at start.
	DecodeRangeMonoF32(start, duration float64) ([]float32, error)
	Close() error
}

// AudioOpener opens an audio decoder resampling to sampleRate.
type AudioOpener func(path string, sampleRate int) (AudioDecoder, error)

// GstAudioDecoder is a paused seekable audio graph with a non-syncing sink.
type GstAudioDecoder struct {
	path       string
	sampleRate int
	pipeline   *gst.Pipeline
	sink       *app.Sink
}

// OpenAudioDecoder builds and prerolls the graph (10 s ceiling).
func OpenAudioDecoder(path string, sampleRate int) (AudioDecoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("media: invalid sample rate %d", sampleRate)
	}
	pipeline, decodebin, err := newSourceBin(path)
	if err != nil {
		return nil, err
	}
	aconv, err := makeElement("audioconvert")
	if err != nil {
		return nil, err
	}
	aresample, err := makeElement("audioresample")
	if err != nil {
		return nil, err
	}
	sink, err := newAppSink(AudioCaps(sampleRate), 64, false, false)
	if err != nil {
		return nil, err
	}
	if err := addChain(pipeline, aconv, aresample, sink.Element); err != nil {
		return nil, err
	}
	connectDecodebin(decodebin, nil, aconv)

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: failed to set paused: %w", err)
	}
	if err := waitForAsyncDone(pipeline, openTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("media: audio preroll failed for %s: %w", path, err)
	}

	return &GstAudioDecoder{path: path, sampleRate: sampleRate, pipeline: pipeline, sink: sink}, nil
}

// DecodeRangeMonoF32 seeks to start, plays until the range is covered and
// pauses again. Samples before start (keyframe seek) are trimmed.
func (d *GstAudioDecoder) DecodeRangeMonoF32(start, duration float64) ([]float32, error) {
	start = max(start, 0)
	end := start + duration

	if err := seekTime(d.pipeline, 1, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, secondsToNanos(start)); err != nil {
		return nil, fmt.Errorf("media: audio seek to %.3fs: %w", start, err)
	}
	if err := waitForAsyncDone(d.pipeline, audioSeekTimeout); err != nil {
		return nil, err
	}
	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("media: failed to play audio decoder: %w", err)
	}
	defer d.pipeline.SetState(gst.StatePaused)

	want := int(duration * float64(d.sampleRate))
	out := make([]float32, 0, want)
	var chunk []float32

	for len(out) < want {
		sample := d.sink.TryPullSample(audioPullTimeout)
		if sample == nil {
			break
		}
		var pts, dur float64
		chunk, pts, dur = sampleAudio(sample, chunk[:0])

		skip := 0
		if pts < start {
			skip = min(int((start-pts)*float64(d.sampleRate)), len(chunk))
		}
		out = append(out, chunk[skip:]...)

		if pts+dur >= end {
			break
		}
	}

	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}

// Close releases the pipeline.
func (d *GstAudioDecoder) Close() error {
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("media: failed to close audio decoder: %w", err)
	}
	return nil
}

// HasAudioStream asks the discoverer whether path contains audio.
func HasAudioStream(path string) bool {
	ensureInit()
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	disc, err := pbutils.NewDiscoverer(discoverTimeout)
	if err != nil {
		slog.Debug("media: discoverer unavailable", "error", err)
		return false
	}
	info, err := disc.DiscoverURI((&url.URL{Scheme: "file", Path: abs}).String())
	if err != nil {
		slog.Debug("media: discover failed", "path", path, "error", err)
		return false
	}
	return len(info.GetAudioStreams()) > 0
}

// MediaInfo describes a media file.
type MediaInfo struct {
	Path     string
	Duration time.Duration
	HasAudio bool
	HasVideo bool
}

// Inspect runs the discoverer on path.
func Inspect(path string) (*MediaInfo, error) {
	ensureInit()
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("media: %w: %v", ErrInvalidPath, err)
	}
	disc, err := pbutils.NewDiscoverer(discoverTimeout)
	if err != nil {
		return nil, fmt.Errorf("media: failed to create discoverer: %w", err)
	}
	info, err := disc.DiscoverURI((&url.URL{Scheme: "file", Path: abs}).String())
	if err != nil {
		return nil, &PipelineError{Category: ClassifyMessage(err.Error()), Message: err.Error()}
	}
	return &MediaInfo{
		Path:     abs,
		Duration: info.GetDuration(),
		HasAudio: len(info.GetAudioStreams()) > 0,
		HasVideo: len(info.GetVideoStreams()) > 0,
	}, nil
}
