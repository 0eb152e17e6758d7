package media

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/wizard-playback/internal/audio"
)

// AudioOnlyOptions configures an audio-only pipeline.
type AudioOnlyOptions struct {
	Path       string
	StartTime  float64
	Producer   *audio.Producer
	SampleRate int
	Channels   int
	Speed      float64
	Errors     *ErrorCounters
}

// AudioOnly decodes a file's audio into a ring producer, paced by the
// pipeline clock. One runs per audio clip under the playhead.
type AudioOnly struct {
	id        string
	pipeline  *gst.Pipeline
	speedBits atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// StartAudioOnly builds, prerolls and seeks an audio pipeline:
//
//	filesrc → decodebin → audioconvert → audioresample → appsink(F32LE mono)
//
// Samples flow into opts.Producer after BeginPlaying.
func StartAudioOnly(opts AudioOnlyOptions) (*AudioOnly, error) {
	if opts.Producer == nil {
		return nil, fmt.Errorf("media: audio-only pipeline requires a producer")
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}

	PrewarmFileSync(opts.Path)

	pipeline, decodebin, err := newSourceBin(opts.Path)
	if err != nil {
		return nil, err
	}
	aconv, asink, err := addAudioChain(pipeline, opts.SampleRate)
	if err != nil {
		return nil, err
	}
	connectDecodebin(decodebin, nil, aconv)

	if err := prerollAndSeek(pipeline, opts.StartTime, opts.Speed); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}

	p := &AudioOnly{
		id:       uuid.NewString(),
		pipeline: pipeline,
		stop:     make(chan struct{}),
	}
	p.speedBits.Store(math.Float64bits(opts.Speed))
	speed := func() float64 { return math.Float64frombits(p.speedBits.Load()) }

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		audioBridge(p.stop, asink, opts.Producer, opts.Channels, speed)
	}()
	go func() {
		defer p.wg.Done()
		_ = monitorBus(p.stop, pipeline, opts.Errors, busInfo{
			ID: p.id, Kind: "audio", Path: opts.Path, StartedAt: time.Now(),
		})
	}()

	slog.Debug("media: audio pipeline started",
		"id", p.id,
		"path", opts.Path,
		"start", opts.StartTime,
		"speed", opts.Speed,
	)
	return p, nil
}

// BeginPlaying moves the pipeline to PLAYING.
func (p *AudioOnly) BeginPlaying() {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		slog.Warn("media: failed to start audio pipeline", "id", p.id, "error", err)
	}
}

// Close stops the pipeline in the background. Safe to call more than once.
func (p *AudioOnly) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		go teardown(p.pipeline, &p.wg, p.id)
	})
	return nil
}
