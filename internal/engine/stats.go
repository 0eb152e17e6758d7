package engine

import (
	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

// PipelineInfo describes an active forward or reverse pipeline.
type PipelineInfo struct {
	// ID is the pipeline instance id used in logs
	ID string `json:"id"`
	// TimelineClip is the timeline placement being decoded
	TimelineClip timeline.TimelineClipID `json:"timeline_clip"`
	// Status is the delivery health (starting_up, delivering, stalled, long_stall)
	Status string `json:"status"`
	// Activated is false while frames are gated behind startup
	Activated bool `json:"activated"`
	// Age counts forward ticks since the pipeline became active
	Age int `json:"age,omitempty"`
}

// Stats is a snapshot of the engine, safe to serialize.
type Stats struct {
	State    string  `json:"state"`
	Playhead float64 `json:"playhead"`
	Speed    float64 `json:"speed"`

	Forward       *PipelineInfo `json:"forward,omitempty"`
	Reverse       *PipelineInfo `json:"reverse,omitempty"`
	ShadowReady   bool          `json:"shadow_ready"`
	ReverseShadow bool          `json:"reverse_shadow_ready"`
	Pending       int           `json:"pending_pipelines"`

	// LastSource is the tag of the frame on screen (fwd, rev, cache, decode)
	LastSource string  `json:"last_source,omitempty"`
	LastPTS    float64 `json:"last_pts,omitempty"`

	RewindFrames int `json:"rewind_frames"`
	RewindBytes  int `json:"rewind_bytes"`

	MixerSources int              `json:"mixer_sources"`
	Mixer        audio.MixerStats `json:"mixer"`
	NoAudioPaths int              `json:"no_audio_paths"`

	VideoFPS float64 `json:"video_fps"`
	TickHz   float64 `json:"tick_hz"`

	ForwardStarts     uint64 `json:"forward_starts"`
	ReverseStarts     uint64 `json:"reverse_starts"`
	ShadowStarts      uint64 `json:"shadow_starts"`
	Promotions        uint64 `json:"promotions"`
	ReversePromotions uint64 `json:"reverse_promotions"`
	StaleRestarts     uint64 `json:"stale_restarts"`
	OpenFailures      uint64 `json:"open_failures"`
	FallbackFrames    uint64 `json:"fallback_frames"`
	CacheFrames       uint64 `json:"cache_frames"`
}

// Stats returns a snapshot for p at now.
func (e *Engine) Stats(p *timeline.Project, now float64) Stats {
	s := Stats{
		State:    p.Playback.State.String(),
		Playhead: p.Playback.Playhead,
		Speed:    p.Playback.EffectiveSpeed(),

		ShadowReady:   e.shadow != nil && e.shadow.firstFrameReady,
		ReverseShadow: e.reverseShadow != nil && e.reverseShadow.firstFrameReady,

		RewindFrames: e.rewind.Len(),
		RewindBytes:  e.rewind.Bytes(),
		NoAudioPaths: e.noAudio.Len(),

		VideoFPS: e.videoFPS.FPS(),
		TickHz:   e.tickRate.Hz(),

		ForwardStarts:     e.counters.forwardStarts,
		ReverseStarts:     e.counters.reverseStarts,
		ShadowStarts:      e.counters.shadowStarts,
		Promotions:        e.counters.promotions,
		ReversePromotions: e.counters.reversePromotions,
		StaleRestarts:     e.counters.staleRestarts,
		OpenFailures:      e.counters.openFailures,
		FallbackFrames:    e.counters.fallbackFrames,
		CacheFrames:       e.counters.cacheFrames,
	}
	if f := e.forward; f != nil {
		s.Forward = &PipelineInfo{
			ID:           f.pipe.ID(),
			TimelineClip: f.timelineClip,
			Status:       f.status(now, &e.tuning).String(),
			Activated:    f.activated,
			Age:          f.age,
		}
	}
	if r := e.reverse; r != nil {
		s.Reverse = &PipelineInfo{
			ID:           r.pipe.ID(),
			TimelineClip: r.timelineClip,
			Status:       r.status(now, &e.tuning).String(),
			Activated:    r.activated,
		}
	}
	for _, pending := range []bool{
		e.pendingForward != nil, e.pendingShadow != nil,
		e.pendingReverse != nil, e.pendingReverseShadow != nil,
	} {
		if pending {
			s.Pending++
		}
	}
	if m := e.lastDecoded; m != nil {
		s.LastSource, s.LastPTS = m.source, m.pts
	}
	if e.audioEnabled() {
		s.MixerSources = e.mixer.SourceCount()
		s.Mixer = e.mixer.Stats()
	}
	return s
}
