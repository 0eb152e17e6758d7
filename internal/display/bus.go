package display

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type subscriberHolder struct {
	id     string
	policy DropPolicy
	stats  *SubscriberStats

	// DropNew
	ch chan<- Frame

	// DropOld
	holder *latestFrameHolder
}

// Bus distributes displayed frames to subscribers. It implements the
// engine's texture sink.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriberHolder
	totalPublished uint64
	seq            uint64
	closed         bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriberHolder)}
}

// Subscribe registers a channel with DropNew policy.
func (b *Bus) Subscribe(id string, ch chan<- Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	if ch == nil {
		return ErrNilChannel
	}

	b.subscribers[id] = &subscriberHolder{id: id, policy: DropNew, stats: &SubscriberStats{}, ch: ch}
	return nil
}

// SubscribeDropOld registers a latest-frame-wins subscriber.
func (b *Bus) SubscribeDropOld(id string) (Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	h := &subscriberHolder{id: id, policy: DropOld, stats: &SubscriberStats{}, holder: newLatestFrameHolder()}
	b.subscribers[id] = h
	return h.holder, nil
}

// SetFrame publishes a copy of rgba. The caller keeps ownership of rgba and
// may reuse it as soon as SetFrame returns.
func (b *Bus) SetFrame(rgba []byte, width, height int, source string, playhead float64) {
	b.Publish(Frame{
		RGBA:     append([]byte(nil), rgba...),
		Width:    width,
		Height:   height,
		Source:   source,
		Playhead: playhead,
	})
}

// ClearFrame publishes an empty frame.
func (b *Bus) ClearFrame() {
	b.Publish(Frame{Cleared: true})
}

// Publish distributes frame to all subscribers, stamping Seq and TraceID.
func (b *Bus) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	frame.Seq = atomic.AddUint64(&b.seq, 1)
	if frame.TraceID == "" {
		frame.TraceID = uuid.NewString()
	}
	atomic.AddUint64(&b.totalPublished, 1)

	for _, h := range b.subscribers {
		switch h.policy {
		case DropNew:
			select {
			case h.ch <- frame:
				atomic.AddUint64(&h.stats.Sent, 1)
			default:
				atomic.AddUint64(&h.stats.Dropped, 1)
			}
		case DropOld:
			_ = h.holder.Set(frame)
			atomic.AddUint64(&h.stats.Sent, 1)
		}
	}
}

// Unsubscribe removes a subscriber
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if h.policy == DropOld && h.holder != nil {
		h.holder.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns statistics for a subscriber
func (b *Bus) Stats(id string) (*SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, exists := b.subscribers[id]
	if !exists {
		return nil, ErrSubscriberNotFound
	}
	return &SubscriberStats{
		Sent:    atomic.LoadUint64(&h.stats.Sent),
		Dropped: atomic.LoadUint64(&h.stats.Dropped),
	}, nil
}

// TotalPublished returns the number of frames published.
func (b *Bus) TotalPublished() uint64 {
	return atomic.LoadUint64(&b.totalPublished)
}

// Close shuts down the bus and all subscribers
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, h := range b.subscribers {
		if h.policy == DropOld && h.holder != nil {
			h.holder.Close()
		}
	}
	b.subscribers = nil
}

// latestFrameHolder implements Receiver for DropOld policy
type latestFrameHolder struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
}

func newLatestFrameHolder() *latestFrameHolder {
	h := &latestFrameHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *latestFrameHolder) Set(frame Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrReceiverClosed
	}
	h.frame = &frame
	h.cond.Broadcast()
	return nil
}

// Receive blocks until a frame is available or the receiver is closed.
func (h *latestFrameHolder) Receive() Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.frame == nil && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return Frame{}
	}
	return *h.frame
}

// TryReceive returns the latest frame without blocking
func (h *latestFrameHolder) TryReceive() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.frame == nil {
		return Frame{}, false
	}
	return *h.frame, true
}

func (h *latestFrameHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
