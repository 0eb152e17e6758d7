// Package audio holds the sample path from decode pipelines to the device:
// single-producer/single-consumer rings, the mixer and the output device.
package audio

import "sync/atomic"

// Ring is a fixed-capacity lock-free SPSC queue of float32 samples.
//
// Exactly one goroutine may push (through the Producer) and exactly one may
// pop (through the Consumer). Occupied and RequestClear may be called from
// anywhere.
type Ring struct {
	buf      []float32
	head     atomic.Uint64 // next read index, owned by consumer
	tail     atomic.Uint64 // next write index, owned by producer
	clearReq atomic.Bool
}

// Producer is the writing end of a Ring.
type Producer struct{ r *Ring }

// Consumer is the reading end of a Ring.
type Consumer struct{ r *Ring }

// NewRing allocates a ring holding up to capacity samples and returns its
// two ends. capacity is raised to 1 if smaller.
func NewRing(capacity int) (*Producer, *Consumer) {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring{buf: make([]float32, capacity)}
	return &Producer{r: r}, &Consumer{r: r}
}

// Capacity returns the maximum number of samples held.
func (r *Ring) Capacity() int { return len(r.buf) }

// Occupied returns the number of samples ready to pop.
func (r *Ring) Occupied() int {
	return int(r.tail.Load() - r.head.Load())
}

// PushSlice copies as many samples as fit and returns that count. The tail of
// samples that does not fit is dropped.
func (p *Producer) PushSlice(samples []float32) int {
	r := p.r
	tail := r.tail.Load()
	head := r.head.Load()
	free := len(r.buf) - int(tail-head)
	n := min(free, len(samples))
	capU := uint64(len(r.buf))
	for i := 0; i < n; i++ {
		r.buf[(tail+uint64(i))%capU] = samples[i]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// Vacant returns the number of samples that can be pushed without dropping.
func (p *Producer) Vacant() int { return p.r.Capacity() - p.r.Occupied() }

// Occupied returns the number of samples waiting in the ring.
func (p *Producer) Occupied() int { return p.r.Occupied() }

// Pop removes one sample.
func (c *Consumer) Pop() (float32, bool) {
	c.applyClear()
	r := c.r
	head := r.head.Load()
	if head == r.tail.Load() {
		return 0, false
	}
	v := r.buf[head%uint64(len(r.buf))]
	r.head.Store(head + 1)
	return v, true
}

// PopSlice fills dst with up to len(dst) samples and returns the count.
func (c *Consumer) PopSlice(dst []float32) int {
	c.applyClear()
	r := c.r
	head := r.head.Load()
	n := min(int(r.tail.Load()-head), len(dst))
	capU := uint64(len(r.buf))
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(head+uint64(i))%capU]
	}
	r.head.Store(head + uint64(n))
	return n
}

// RequestClear asks the consumer to discard every queued sample before its
// next pop. Safe from any goroutine; the head index is only ever moved by
// the consumer.
func (c *Consumer) RequestClear() { c.r.clearReq.Store(true) }

func (c *Consumer) applyClear() {
	if c.r.clearReq.Swap(false) {
		c.Clear()
	}
}

// Clear discards every queued sample. Only the consumer goroutine may call
// it; other goroutines use RequestClear.
func (c *Consumer) Clear() int {
	r := c.r
	tail := r.tail.Load()
	n := int(tail - r.head.Load())
	r.head.Store(tail)
	return n
}

// Occupied returns the number of samples ready to pop.
func (c *Consumer) Occupied() int { return c.r.Occupied() }

// Capacity returns the ring capacity.
func (c *Consumer) Capacity() int { return c.r.Capacity() }
