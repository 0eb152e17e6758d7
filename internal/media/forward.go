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
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/wizard-playback/internal/audio"
)

const (
	forwardFrameQueue = 16
	videoPullTimeout  = 8 * time.Millisecond
	mutedBelowSpeed   = 0.99
)

// ForwardOptions configures a forward pipeline.
type ForwardOptions struct {
	Path      string
	StartTime float64 // source seconds
	Width     int
	Height    int
	Speed     float64

	// Audio, when set, receives the file's audio duplicated to Channels.
	Audio      *audio.Producer
	SampleRate int
	Channels   int

	Errors *ErrorCounters
}

// Forward decodes a file from StartTime onwards into RGBA frames.
//
// The graph is
//
//	filesrc → decodebin → videoconvert → videoscale → appsink(RGBA)
//	                    ↘ audioconvert → audioresample → appsink(F32LE mono)
//
// It prerolls paused on the start position; frames flow after BeginPlaying.
// Frames arrive in increasing PTS order. Bus errors and EOS end the stream
// quietly: TryRecvFrame simply stops returning frames.
type Forward struct {
	id        string
	path      string
	width     int
	height    int
	pipeline  *gst.Pipeline
	videoSink *app.Sink
	audioSink *app.Sink

	frames chan *DecodedFrame
	pool   BufferPool

	firstFrameReady atomic.Bool
	speedBits       atomic.Uint64
	framesDecoded   atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// StartForward builds, prerolls and seeks a forward pipeline.
//
// This method:
//  1. Warms the page cache with the head of the file
//  2. Builds the video chain, plus the audio chain when opts.Audio is set
//  3. Prerolls paused and seeks (key unit) to opts.StartTime at opts.Speed
//  4. Starts the video bridge, audio bridge and bus monitor goroutines
//
// Returns an error if the file cannot be opened or no decoder is available.
func StartForward(opts ForwardOptions) (*Forward, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("media: invalid target size %dx%d", opts.Width, opts.Height)
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}

	PrewarmFileSync(opts.Path)

	pipeline, decodebin, err := newSourceBin(opts.Path)
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
	videoSink, err := newAppSink(VideoCaps(opts.Width, opts.Height), 4, true, true)
	if err != nil {
		return nil, err
	}
	if err := addChain(pipeline, videoconvert, videoscale, videoSink.Element); err != nil {
		return nil, err
	}

	var audioconvert *gst.Element
	var audioSink *app.Sink
	if opts.Audio != nil {
		if audioconvert, audioSink, err = addAudioChain(pipeline, opts.SampleRate); err != nil {
			return nil, err
		}
	}
	connectDecodebin(decodebin, videoconvert, audioconvert)

	if err := prerollAndSeek(pipeline, opts.StartTime, opts.Speed); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}

	p := &Forward{
		id:        uuid.NewString(),
		path:      opts.Path,
		width:     opts.Width,
		height:    opts.Height,
		pipeline:  pipeline,
		videoSink: videoSink,
		audioSink: audioSink,
		frames:    make(chan *DecodedFrame, forwardFrameQueue),
		stop:      make(chan struct{}),
	}
	p.speedBits.Store(math.Float64bits(opts.Speed))

	p.wg.Add(2)
	go p.videoBridge()
	go func() {
		defer p.wg.Done()
		_ = monitorBus(p.stop, pipeline, opts.Errors, busInfo{
			ID: p.id, Kind: "forward", Path: opts.Path, StartedAt: time.Now(),
		})
	}()
	if audioSink != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			audioBridge(p.stop, audioSink, opts.Audio, opts.Channels, p.speed)
		}()
	}

	slog.Debug("media: forward pipeline started",
		"id", p.id,
		"path", opts.Path,
		"start", opts.StartTime,
		"size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"speed", opts.Speed,
		"audio", audioSink != nil,
	)
	return p, nil
}

// addAudioChain adds audioconvert → audioresample → appsink and returns the
// chain head and sink.
func addAudioChain(pipeline *gst.Pipeline, sampleRate int) (*gst.Element, *app.Sink, error) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	aconv, err := makeElement("audioconvert")
	if err != nil {
		return nil, nil, err
	}
	aresample, err := makeElement("audioresample")
	if err != nil {
		return nil, nil, err
	}
	asink, err := newAppSink(AudioCaps(sampleRate), 64, false, true)
	if err != nil {
		return nil, nil, err
	}
	if err := addChain(pipeline, aconv, aresample, asink.Element); err != nil {
		return nil, nil, err
	}
	return aconv, asink, nil
}

func (p *Forward) speed() float64 { return math.Float64frombits(p.speedBits.Load()) }

// videoBridge hands the preroll frame over, then pulls frames until stop or
// EOS. Sends block when the queue is full so decoding is paced by the
// consumer as well as the pipeline clock.
func (p *Forward) videoBridge() {
	defer p.wg.Done()

	if f, ok := sampleFrame(p.videoSink.PullPreroll(), p.width, p.height, &p.pool); ok {
		p.send(f)
	}
	p.firstFrameReady.Store(true)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		sample := p.videoSink.TryPullSample(videoPullTimeout)
		if sample == nil {
			if p.videoSink.IsEOS() {
				return
			}
			continue
		}
		if f, ok := sampleFrame(sample, p.width, p.height, &p.pool); ok {
			if !p.send(f) {
				return
			}
		}
	}
}

func (p *Forward) send(f *DecodedFrame) bool {
	select {
	case p.frames <- f:
		p.framesDecoded.Add(1)
		return true
	case <-p.stop:
		return false
	}
}

// audioBridge pulls audio samples and pushes them, channel-duplicated, into
// producer. Below mutedBelowSpeed samples are pulled and discarded.
func audioBridge(stop <-chan struct{}, sink *app.Sink, producer *audio.Producer, channels int, speed func() float64) {
	if channels < 1 {
		channels = 1
	}
	var mono, out []float32
	push := func(sample *gst.Sample) {
		if speed() < mutedBelowSpeed {
			return
		}
		mono, _, _ = sampleAudio(sample, mono[:0])
		out = duplicateChannels(out, mono, channels)
		producer.PushSlice(out)
	}

	if s := sink.PullPreroll(); s != nil {
		push(s)
	}
	for {
		select {
		case <-stop:
			return
		default:
		}

		timeout := videoPullTimeout
		if speed() < mutedBelowSpeed {
			timeout = 50 * time.Millisecond
		}
		sample := sink.TryPullSample(timeout)
		if sample == nil {
			if sink.IsEOS() {
				return
			}
			continue
		}
		push(sample)
	}
}

// ID returns the pipeline instance id used in logs.
func (p *Forward) ID() string { return p.id }

// IsFirstFrameReady reports whether the preroll frame has been decoded.
func (p *Forward) IsFirstFrameReady() bool { return p.firstFrameReady.Load() }

// BeginPlaying moves the pipeline to PLAYING.
func (p *Forward) BeginPlaying() {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		slog.Warn("media: failed to start forward pipeline", "id", p.id, "error", err)
	}
}

// TryRecvFrame returns the next frame without blocking.
func (p *Forward) TryRecvFrame() (*DecodedFrame, bool) {
	select {
	case f := <-p.frames:
		return f, true
	default:
		return nil, false
	}
}

// ReturnBuffer hands a frame buffer back for reuse.
func (p *Forward) ReturnBuffer(b []byte) { p.pool.Put(b) }

// UpdateSpeed issues a rate seek from the current position.
func (p *Forward) UpdateSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	p.speedBits.Store(math.Float64bits(speed))

	pos := int64(0)
	if ok, cur := p.pipeline.QueryPosition(gst.FormatTime); ok {
		pos = cur
	}
	if err := seekTime(p.pipeline, speed, gst.SeekFlagFlush|gst.SeekFlagAccurate, pos); err != nil {
		slog.Warn("media: rate seek failed", "id", p.id, "speed", speed, "error", err)
	}
}

// FramesDecoded returns the number of frames handed to the consumer queue.
func (p *Forward) FramesDecoded() uint64 { return p.framesDecoded.Load() }

// Close stops the pipeline. Teardown finishes in the background so callers
// on a render loop never wait on GStreamer. Safe to call more than once.
func (p *Forward) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		go teardown(p.pipeline, &p.wg, p.id)
	})
	return nil
}

// teardown sets the pipeline to NULL and waits for its goroutines.
func teardown(pipeline *gst.Pipeline, wg *sync.WaitGroup, id string) {
	if err := pipeline.SetState(gst.StateNull); err != nil {
		slog.Debug("media: failed to set pipeline to NULL", "id", id, "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("media: pipeline goroutines did not exit within 3s", "id", id)
	}
}
