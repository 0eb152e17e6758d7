package engine

import (
	"context"
	"fmt"

	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/media"
)

// VideoPipeline is the capability set shared by forward and reverse
// pipelines.
type VideoPipeline interface {
	ID() string
	IsFirstFrameReady() bool
	BeginPlaying()
	TryRecvFrame() (*media.DecodedFrame, bool)
	ReturnBuffer(b []byte)
	UpdateSpeed(speed float64)
	Close() error
}

// AudioPipeline feeds one mixer source.
type AudioPipeline interface {
	BeginPlaying()
	Close() error
}

// ForwardRequest describes a forward pipeline to open.
type ForwardRequest struct {
	Path      string
	StartTime float64
	Width     int
	Height    int
	Speed     float64
}

// ReverseRequest describes a reverse pipeline to open.
type ReverseRequest struct {
	Path      string
	StartTime float64
	Width     int
	Height    int
	Speed     float64
	GOPWindow float64
}

// AudioRequest describes an audio-only pipeline to open.
type AudioRequest struct {
	Path       string
	StartTime  float64
	Producer   *audio.Producer
	SampleRate int
	Channels   int
	Speed      float64
}

// Factory opens pipelines. Calls may block on I/O; the engine only calls
// them from spawned goroutines.
type Factory interface {
	StartForward(req ForwardRequest) (VideoPipeline, error)
	StartReverse(req ReverseRequest) (VideoPipeline, error)
	StartAudio(req AudioRequest) (AudioPipeline, error)
}

// GstFactory opens GStreamer pipelines with retry on transient failures.
type GstFactory struct {
	Retry  media.RetryConfig
	Errors *media.ErrorCounters
}

// NewGstFactory returns a factory with the default retry policy.
func NewGstFactory(counters *media.ErrorCounters) *GstFactory {
	return &GstFactory{Retry: media.DefaultRetryConfig(), Errors: counters}
}

// StartForward opens a video-only forward pipeline; timeline audio comes
// from audio-only pipelines.
func (f *GstFactory) StartForward(req ForwardRequest) (VideoPipeline, error) {
	return media.OpenWithRetry(context.Background(), "forward "+req.Path, f.Retry, func() (VideoPipeline, error) {
		p, err := media.StartForward(media.ForwardOptions{
			Path:      req.Path,
			StartTime: req.StartTime,
			Width:     req.Width,
			Height:    req.Height,
			Speed:     req.Speed,
			Errors:    f.Errors,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// StartReverse starts a reverse pipeline. Its decoder opens on the
// pipeline's own goroutine, so this returns immediately.
func (f *GstFactory) StartReverse(req ReverseRequest) (VideoPipeline, error) {
	p, err := media.StartReverse(media.ReverseOptions{
		Path:      req.Path,
		StartTime: req.StartTime,
		Width:     req.Width,
		Height:    req.Height,
		Speed:     req.Speed,
		GOPWindow: req.GOPWindow,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StartAudio opens an audio-only pipeline. When the file has no audio
// stream the error wraps media.ErrNoAudioStream.
func (f *GstFactory) StartAudio(req AudioRequest) (AudioPipeline, error) {
	p, err := media.OpenWithRetry(context.Background(), "audio "+req.Path, f.Retry, func() (AudioPipeline, error) {
		p, err := media.StartAudioOnly(media.AudioOnlyOptions{
			Path:       req.Path,
			StartTime:  req.StartTime,
			Producer:   req.Producer,
			SampleRate: req.SampleRate,
			Channels:   req.Channels,
			Speed:      req.Speed,
			Errors:     f.Errors,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil && !media.HasAudioStream(req.Path) {
		return nil, fmt.Errorf("engine: %s: %w", req.Path, media.ErrNoAudioStream)
	}
	return p, err
}
