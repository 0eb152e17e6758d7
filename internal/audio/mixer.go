package audio

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// SourceRingSize is the per-source ring capacity in samples.
	SourceRingSize = 65536
	// MixBufferSize caps the samples mixed in one tick.
	MixBufferSize = 4096
)

// Source is one decoding input of the mixer. Closing the owner stops the
// pipeline feeding the ring.
type Source struct {
	Consumer *Consumer
	Owner    io.Closer
}

// Close stops the feeding pipeline.
func (s Source) Close() error {
	if s.Owner == nil {
		return nil
	}
	return s.Owner.Close()
}

// Output is the shared writing end of the device ring. Both the mixer and
// the snippet path push through it.
type Output struct {
	mu       sync.Mutex
	producer *Producer
	channels int
	clear    func()
}

// NewOutput wraps producer. clear, if non-nil, discards samples already
// queued on the device side.
func NewOutput(producer *Producer, channels int, clear func()) *Output {
	if channels < 1 {
		channels = 1
	}
	return &Output{producer: producer, channels: channels, clear: clear}
}

// Channels returns the interleaved channel count of the device.
func (o *Output) Channels() int { return o.channels }

// Push writes samples and returns how many fit. The lock only guards a copy
// into the ring, so a concurrent snippet enqueue delays the mixer briefly
// instead of losing its tick.
func (o *Output) Push(samples []float32) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.producer.PushSlice(samples)
}

// EnqueueMono duplicates each mono sample across every output channel and
// pushes the result.
func (o *Output) EnqueueMono(mono []float32) int {
	interleaved := make([]float32, 0, len(mono)*o.channels)
	for _, s := range mono {
		for c := 0; c < o.channels; c++ {
			interleaved = append(interleaved, s)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.producer.PushSlice(interleaved)
}

// ClearBuffer discards samples queued for the device.
func (o *Output) ClearBuffer() {
	if o.clear != nil {
		o.clear()
	}
}

// Mixer sums its sources into the output ring once per tick.
type Mixer struct {
	output    *Output
	sources   []Source
	buf       []float32
	scratch   []float32
	underflow *rate.Limiter
	stats     MixerStats
}

// MixerStats counts mixer activity.
type MixerStats struct {
	Ticks          uint64 `json:"ticks"`
	SamplesMixed   uint64 `json:"samples_mixed"`
	SamplesDropped uint64 `json:"samples_dropped"`
	Underflows     uint64 `json:"underflows"`
}

// NewMixer creates an empty mixer writing into output.
func NewMixer(output *Output) *Mixer {
	return &Mixer{
		output:    output,
		buf:       make([]float32, MixBufferSize),
		scratch:   make([]float32, MixBufferSize),
		underflow: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// Output returns the shared output the mixer writes to.
func (m *Mixer) Output() *Output { return m.output }

// AddSource appends a source.
func (m *Mixer) AddSource(s Source) { m.sources = append(m.sources, s) }

// ReplaceSources closes the current sources and installs srcs.
func (m *Mixer) ReplaceSources(srcs []Source) {
	m.closeSources()
	m.sources = append(m.sources[:0], srcs...)
}

// Clear closes and removes every source.
func (m *Mixer) Clear() {
	m.closeSources()
	m.sources = m.sources[:0]
}

func (m *Mixer) closeSources() {
	for _, s := range m.sources {
		if err := s.Close(); err != nil {
			slog.Debug("audio: source close failed", "error", err)
		}
	}
}

// SourceCount returns the number of active sources.
func (m *Mixer) SourceCount() int { return len(m.sources) }

// Stats returns a copy of the counters.
func (m *Mixer) Stats() MixerStats { return m.stats }

// MixTick mixes at most MixBufferSize samples into the output.
//
// Each source contributes only what it has; a lagging source adds fewer
// samples instead of silence. Samples are clamped to [-1, 1].
func (m *Mixer) MixTick() {
	if len(m.sources) == 0 {
		return
	}
	m.stats.Ticks++

	available := 0
	for _, s := range m.sources {
		available = max(available, s.Consumer.Occupied())
	}
	if available == 0 {
		m.stats.Underflows++
		if m.underflow.Allow() {
			slog.Debug("audio: mixer underflow", "sources", len(m.sources))
		}
		return
	}

	mixLen := min(available, MixBufferSize)
	buf := m.buf[:mixLen]
	clear(buf)

	for _, s := range m.sources {
		n := s.Consumer.PopSlice(m.scratch[:min(s.Consumer.Occupied(), mixLen)])
		for i := 0; i < n; i++ {
			buf[i] += m.scratch[i]
		}
	}

	for i, v := range buf {
		if v > 1 {
			buf[i] = 1
		} else if v < -1 {
			buf[i] = -1
		}
	}

	pushed := m.output.Push(buf)
	m.stats.SamplesMixed += uint64(pushed)
	if pushed < mixLen {
		m.stats.SamplesDropped += uint64(mixLen - pushed)
		if m.underflow.Allow() {
			slog.Debug("audio: output ring full", "dropped", mixLen-pushed)
		}
	}
}
