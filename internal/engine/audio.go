package engine

import (
	"errors"
	"log/slog"

	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

type audioPlan struct {
	req      AudioRequest
	consumer *audio.Consumer
}

// planAudio returns one ring-backed request per unmuted audio clip at t,
// skipping sources known to have no audio stream.
func (e *Engine) planAudio(p *timeline.Project, t float64) []audioPlan {
	var plans []audioPlan
	for _, hit := range p.Timeline.AudioClipsAt(t) {
		src, ok := p.Source(hit.Clip.SourceID)
		if !ok || e.noAudio.Contains(src.Path) {
			continue
		}
		producer, consumer := audio.NewRing(audio.SourceRingSize)
		plans = append(plans, audioPlan{
			req: AudioRequest{
				Path:       src.Path,
				StartTime:  hit.SourceTime,
				Producer:   producer,
				SampleRate: e.sampleRate,
				Channels:   e.channels,
				Speed:      p.Playback.EffectiveSpeed(),
			},
			consumer: consumer,
		})
	}
	return plans
}

// openAudio runs on a spawned goroutine.
func (e *Engine) openAudio(plan audioPlan) (audio.Source, AudioPipeline, error) {
	pipe, err := e.factory.StartAudio(plan.req)
	if err != nil {
		if errors.Is(err, media.ErrNoAudioStream) {
			e.noAudio.Add(plan.req.Path)
		}
		return audio.Source{}, nil, err
	}
	return audio.Source{Consumer: plan.consumer, Owner: pipe}, pipe, nil
}

// startAudioSources replaces the mixer sources with the audio clips under
// the playhead. Pipelines open in the background and join the mixer when
// drainStartedAudio sees them under the same generation.
func (e *Engine) startAudioSources(p *timeline.Project) {
	if !e.audioEnabled() {
		return
	}
	e.mixer.Clear()
	e.audioGen++
	e.audioInFlight = 0

	gen := e.audioGen
	for _, plan := range e.planAudio(p, p.Playback.Playhead) {
		e.audioInFlight++
		e.spawn(func() {
			src, pipe, err := e.openAudio(plan)
			if err == nil {
				pipe.BeginPlaying()
			}
			select {
			case e.audioStarted <- startedAudio{gen: gen, src: src, path: plan.req.Path, err: err}:
			default:
				if err == nil {
					_ = src.Close()
				}
			}
		})
	}
}

// resetAudioSources clears the mixer and flushes the device buffer. Opens
// still in flight are discarded when they land.
func (e *Engine) resetAudioSources() {
	e.audioGen++
	e.audioInFlight = 0
	if !e.audioEnabled() {
		return
	}
	e.mixer.Clear()
	e.output.ClearBuffer()
}

func (e *Engine) audioStarting() bool { return e.audioInFlight > 0 }

func (e *Engine) drainStartedAudio() {
	for {
		select {
		case s := <-e.audioStarted:
			current := s.gen == e.audioGen
			if current && e.audioInFlight > 0 {
				e.audioInFlight--
			}
			if s.err != nil {
				e.counters.openFailures++
				if !errors.Is(s.err, media.ErrNoAudioStream) {
					slog.Warn("engine: audio pipeline failed", "path", s.path, "error", s.err)
				}
				continue
			}
			if !current || !e.audioEnabled() {
				_ = s.src.Close()
				continue
			}
			e.mixer.AddSource(s.src)
		default:
			return
		}
	}
}

// buildShadowAudio opens paused audio pipelines for a shadow. Called on the
// shadow's spawned goroutine; failures leave the clip silent.
func (e *Engine) buildShadowAudio(plans []audioPlan) []audio.Source {
	var srcs []audio.Source
	for _, plan := range plans {
		src, _, err := e.openAudio(plan)
		if err != nil {
			slog.Debug("engine: shadow audio failed", "path", plan.req.Path, "error", err)
			continue
		}
		srcs = append(srcs, src)
	}
	return srcs
}

// beginShadowAudio starts the shadow's audio and swaps it in atomically.
func (e *Engine) beginShadowAudio(srcs []audio.Source) {
	for _, src := range srcs {
		if pipe, ok := src.Owner.(AudioPipeline); ok {
			pipe.BeginPlaying()
		}
	}
	e.audioGen++
	e.audioInFlight = 0
	e.mixer.ReplaceSources(srcs)
	e.output.ClearBuffer()
}

func (e *Engine) stopSnippets() {
	if e.snippets != nil {
		e.snippets.StopPreview()
	}
}

// drainSnippets keeps the newest preview snippet and plays it while the
// transport is idle.
func (e *Engine) drainSnippets(p *timeline.Project) {
	if e.snippets == nil {
		return
	}
	var last []float32
	for {
		s, ok := e.snippets.TryRecv()
		if !ok {
			break
		}
		last = s.Samples
	}
	if last == nil || !e.audioEnabled() || p.Playback.IsPlaying() {
		return
	}
	e.resetAudioSources()
	e.output.EnqueueMono(last)
}
