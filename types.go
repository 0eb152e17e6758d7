package playback

import (
	"errors"
	"time"

	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/engine"
	"github.com/e7canasta/wizard-playback/internal/remote"
	"github.com/e7canasta/wizard-playback/internal/timeline"
	"github.com/e7canasta/wizard-playback/internal/workers"
)

var (
	ErrAlreadyStarted = errors.New("playback: player already started")
	ErrInvalidSpeed   = errors.New("playback: speed must be a positive number")
	ErrInvalidTime    = errors.New("playback: time must be a finite number")
	ErrUnknownClip    = errors.New("playback: unknown clip")
)

// Options configures a Player.
type Options struct {
	// Config is required; Validate has already filled its defaults.
	Config  *config.Config
	Project *timeline.Project

	// Factory opens pipelines. Nil uses GStreamer.
	Factory engine.Factory
	// Decoder serves stopped and scrub frames. Nil starts a decode worker.
	Decoder engine.FrameDecoder
	// Snippets serves hover and scrub audio. Nil starts a snippet worker.
	Snippets engine.SnippetSource
	// Output replaces the audio device, mostly for tests. When nil and
	// audio is enabled the default device is opened.
	Output *audio.Output

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
	// ManualTick leaves ticking to the host, which calls Player.Tick from
	// its own frame loop.
	ManualTick bool
}

// DisplayStats counts bus traffic.
type DisplayStats struct {
	Published        uint64 `json:"published"`
	ObserversDropped uint64 `json:"observers_dropped,omitempty"`
}

// AudioStats describes the output device.
type AudioStats struct {
	Device  bool   `json:"device"`
	Played  uint64 `json:"played"`
	Silence uint64 `json:"silence"`
}

// SnippetStats counts snippet worker activity.
type SnippetStats struct {
	Decoded   uint64 `json:"decoded"`
	CacheHits uint64 `json:"cache_hits"`
	Skipped   uint64 `json:"skipped"`
}

// Stats is a snapshot of the player, safe to serialize.
type Stats struct {
	InstanceID    string  `json:"instance_id"`
	Running       bool    `json:"running"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	Engine   engine.Stats         `json:"engine"`
	Display  DisplayStats         `json:"display"`
	Audio    AudioStats           `json:"audio"`
	Decode   *workers.DecodeStats `json:"decode,omitempty"`
	Snippets *SnippetStats        `json:"snippets,omitempty"`

	MediaErrors map[string]uint64    `json:"media_errors"`
	Remote      *remote.EmitterStats `json:"remote,omitempty"`

	DebugEvents  uint64 `json:"debug_events,omitempty"`
	DebugDropped uint64 `json:"debug_dropped,omitempty"`
}
