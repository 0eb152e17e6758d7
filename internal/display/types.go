// Package display fans displayed frames out to renderers and observers.
//
// A renderer subscribes with DropOld and always sees the latest frame.
// Observers (stats, snapshots) subscribe with a channel and DropNew so a
// slow observer never holds up the engine tick.
package display

import "errors"

var (
	ErrBusClosed          = errors.New("display: bus is closed")
	ErrSubscriberExists   = errors.New("display: subscriber already exists")
	ErrSubscriberNotFound = errors.New("display: subscriber not found")
	ErrNilChannel         = errors.New("display: nil channel provided")
	ErrReceiverClosed     = errors.New("display: receiver is closed")
)

// DropPolicy defines how the bus handles frames when a subscriber cannot keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// Frame is one update of the playback texture. A Cleared frame carries no
// pixels and means "show nothing".
type Frame struct {
	RGBA     []byte
	Width    int
	Height   int
	Source   string // fwd, rev, cache, decode
	Playhead float64
	Seq      uint64
	TraceID  string
	Cleared  bool
}

// Receiver provides blocking and non-blocking access to the latest frame.
type Receiver interface {
	Receive() Frame
	TryReceive() (Frame, bool)
	Close()
}

// SubscriberStats tracks frame distribution
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}
