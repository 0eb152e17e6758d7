package media

import (
	"encoding/binary"
	"math"
	"sync"
)

// maxPooledBuffers caps how many returned frame buffers are kept for reuse.
const maxPooledBuffers = 8

// DecodedFrame is one RGBA frame. PTS is in source seconds.
type DecodedFrame struct {
	PTS    float64
	Width  int
	Height int
	RGBA   []byte
}

// BufferPool recycles frame buffers between a pipeline and its consumer.
type BufferPool struct {
	mu   sync.Mutex
	bufs [][]byte
}

// Get returns a buffer of length size, reusing a pooled one when possible.
func (p *BufferPool) Get(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	for n := len(p.bufs); n > 0; n = len(p.bufs) {
		b := p.bufs[n-1]
		p.bufs = p.bufs[:n-1]
		if cap(b) >= size {
			return b[:size]
		}
	}
	return make([]byte, size)
}

// Put returns b to the pool. Buffers beyond the cap are dropped.
func (p *BufferPool) Put(b []byte) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bufs) < maxPooledBuffers {
		p.bufs = append(p.bufs, b)
	}
}

// Len returns the number of pooled buffers.
func (p *BufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bufs)
}

// appendF32LE decodes little-endian float32 samples from data.
func appendF32LE(dst []float32, data []byte) []float32 {
	for i := 0; i+4 <= len(data); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return dst
}

// duplicateChannels expands mono samples to channels interleaved copies.
func duplicateChannels(dst, mono []float32, channels int) []float32 {
	dst = dst[:0]
	for _, s := range mono {
		for c := 0; c < channels; c++ {
			dst = append(dst, s)
		}
	}
	return dst
}
