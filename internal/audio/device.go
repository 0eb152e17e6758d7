package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/oto/v2"
)

// Device plays interleaved float32 samples popped from its ring consumer.
//
// The ring holds sampleRate/4 samples; the mixer and snippet path write into
// it through Output.
type Device struct {
	sampleRate int
	channels   int
	consumer   *Consumer
	output     *Output

	ctx    *oto.Context
	player oto.Player

	closeOnce sync.Once
	popped    atomic.Uint64
	silence   atomic.Uint64
}

// OpenDevice opens the default audio device.
//
// This method:
//  1. Allocates the output ring (sampleRate/4 samples)
//  2. Creates the oto context in float32 little-endian format
//  3. Waits for the device to become ready
//  4. Starts a player that reads from the ring
func OpenDevice(sampleRate, channels int) (*Device, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be > 0, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("audio: channels must be > 0, got %d", channels)
	}

	producer, consumer := NewRing(sampleRate / 4)
	d := &Device{
		sampleRate: sampleRate,
		channels:   channels,
		consumer:   consumer,
	}
	d.output = NewOutput(producer, channels, d.ClearBuffer)

	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatFloat32LE)
	if err != nil {
		return nil, fmt.Errorf("audio: failed to open device: %w", err)
	}
	<-ready
	d.ctx = ctx
	d.player = ctx.NewPlayer(&ringReader{d: d})
	d.player.Play()

	slog.Info("audio: device opened",
		"sample_rate", sampleRate,
		"channels", channels,
		"ring_capacity", consumer.Capacity(),
	)
	return d, nil
}

// Output returns the producer side shared with the mixer.
func (d *Device) Output() *Output { return d.output }

// SampleRate returns the device rate in Hz.
func (d *Device) SampleRate() int { return d.sampleRate }

// Channels returns the interleaved channel count.
func (d *Device) Channels() int { return d.channels }

// ClearBuffer discards samples not yet handed to the hardware. The ring is
// emptied by the device goroutine on its next read.
func (d *Device) ClearBuffer() {
	d.consumer.RequestClear()
	slog.Debug("audio: output buffer clear requested")
}

// Stats returns (samples played, silence samples inserted).
func (d *Device) Stats() (played, silence uint64) {
	return d.popped.Load(), d.silence.Load()
}

// Close stops playback. Safe to call more than once.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.player != nil {
			err = d.player.Close()
		}
	})
	return err
}

// ringReader adapts the ring consumer to the io.Reader oto pulls from.
// Missing samples are rendered as silence so the device never starves.
type ringReader struct {
	d       *Device
	scratch []float32
}

func (r *ringReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if cap(r.scratch) < n {
		r.scratch = make([]float32, n)
	}
	s := r.scratch[:n]
	got := r.d.consumer.PopSlice(s)
	clear(s[got:])
	for i, v := range s {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	r.d.popped.Add(uint64(got))
	r.d.silence.Add(uint64(n - got))
	return n * 4, nil
}
