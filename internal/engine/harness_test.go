package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
	"github.com/e7canasta/wizard-playback/internal/workers"
)

func frameAt(pts float64) *media.DecodedFrame {
	return &media.DecodedFrame{PTS: pts, Width: 4, Height: 2, RGBA: make([]byte, 4*2*4)}
}

// fakePipe is a video pipeline whose frames are pushed by the test.
type fakePipe struct {
	id       string
	start    float64
	speed    float64
	ready    bool
	began    int
	returned int
	frames   []*media.DecodedFrame
	closed   atomic.Bool
}

func (p *fakePipe) ID() string              { return p.id }
func (p *fakePipe) IsFirstFrameReady() bool { return p.ready }
func (p *fakePipe) BeginPlaying()           { p.began++ }
func (p *fakePipe) ReturnBuffer([]byte)     { p.returned++ }
func (p *fakePipe) UpdateSpeed(s float64)   { p.speed = s }
func (p *fakePipe) Close() error            { p.closed.Store(true); return nil }

func (p *fakePipe) TryRecvFrame() (*media.DecodedFrame, bool) {
	if len(p.frames) == 0 {
		return nil, false
	}
	f := p.frames[0]
	p.frames = p.frames[1:]
	return f, true
}

func (p *fakePipe) push(pts ...float64) {
	for _, t := range pts {
		p.frames = append(p.frames, frameAt(t))
	}
}

type fakeAudio struct {
	path   string
	began  int
	closed atomic.Bool
}

func (a *fakeAudio) BeginPlaying() { a.began++ }
func (a *fakeAudio) Close() error  { a.closed.Store(true); return nil }

// fakeFactory records every pipeline it opens. Forward pipelines carry a
// preroll frame at their start time; reverse pipelines start empty.
type fakeFactory struct {
	mu         sync.Mutex
	seq        int
	forwards   []*fakePipe
	reverses   []*fakePipe
	audios     []*fakeAudio
	audioReqs  []AudioRequest
	forwardErr error
	noAudio    map[string]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{noAudio: make(map[string]bool)}
}

func (f *fakeFactory) StartForward(req ForwardRequest) (VideoPipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	f.seq++
	p := &fakePipe{id: fmt.Sprintf("fwd-%d", f.seq), start: req.StartTime, speed: req.Speed, ready: true}
	p.push(req.StartTime)
	f.forwards = append(f.forwards, p)
	return p, nil
}

func (f *fakeFactory) StartReverse(req ReverseRequest) (VideoPipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p := &fakePipe{id: fmt.Sprintf("rev-%d", f.seq), start: req.StartTime, speed: req.Speed, ready: true}
	f.reverses = append(f.reverses, p)
	return p, nil
}

func (f *fakeFactory) StartAudio(req AudioRequest) (AudioPipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioReqs = append(f.audioReqs, req)
	if f.noAudio[req.Path] {
		return nil, fmt.Errorf("fake: %s: %w", req.Path, media.ErrNoAudioStream)
	}
	a := &fakeAudio{path: req.Path}
	f.audios = append(f.audios, a)
	return a, nil
}

type shownFrame struct {
	source   string
	playhead float64
}

type fakeDisplay struct {
	shown   []shownFrame
	cleared int
}

func (d *fakeDisplay) SetFrame(_ []byte, _, _ int, source string, playhead float64) {
	d.shown = append(d.shown, shownFrame{source: source, playhead: playhead})
}

func (d *fakeDisplay) ClearFrame() { d.cleared++ }

func (d *fakeDisplay) last() shownFrame {
	if len(d.shown) == 0 {
		return shownFrame{}
	}
	return d.shown[len(d.shown)-1]
}

type fakeDecoder struct {
	requests    []workers.DecodeRequest
	results     []workers.DecodeResult
	cached      *media.DecodedFrame
	cachedCalls int
}

func (d *fakeDecoder) Request(req workers.DecodeRequest) { d.requests = append(d.requests, req) }

func (d *fakeDecoder) TryRecv() (workers.DecodeResult, bool) {
	if len(d.results) == 0 {
		return workers.DecodeResult{}, false
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r, true
}

func (d *fakeDecoder) CachedFrame(timeline.ClipID, float64) (*media.DecodedFrame, bool) {
	d.cachedCalls++
	return d.cached, d.cached != nil
}

type fakeSnippets struct {
	previews []string
	times    []float64
	stops    int
	out      []workers.Snippet
}

func (s *fakeSnippets) Preview(path string, t float64, _ int) {
	s.previews = append(s.previews, path)
	s.times = append(s.times, t)
}

func (s *fakeSnippets) StopPreview() { s.stops++ }

func (s *fakeSnippets) TryRecv() (workers.Snippet, bool) {
	if len(s.out) == 0 {
		return workers.Snippet{}, false
	}
	sn := s.out[0]
	s.out = s.out[1:]
	return sn, true
}

// harness drives an engine with a manual clock and synchronous opens.
type harness struct {
	t   *testing.T
	e   *Engine
	p   *timeline.Project
	f   *fakeFactory
	d   *fakeDisplay
	dec *fakeDecoder
	sn  *fakeSnippets
	now float64
}

func newHarness(t *testing.T, p *timeline.Project, withAudio bool) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		p:   p,
		f:   newFakeFactory(),
		d:   &fakeDisplay{},
		dec: &fakeDecoder{},
		sn:  &fakeSnippets{},
	}
	opts := Options{
		Tuning:     config.DefaultTuning(),
		SampleRate: 48000,
		Channels:   2,
		Factory:    h.f,
		Display:    h.d,
		Decoder:    h.dec,
		Snippets:   h.sn,
	}
	if withAudio {
		producer, _ := audio.NewRing(1 << 14)
		opts.Output = audio.NewOutput(producer, 2, nil)
	}
	h.e = New(opts)
	h.e.spawn = func(fn func()) { fn() }
	t.Cleanup(h.e.Close)
	return h
}

func (h *harness) tick(dt float64) {
	h.now += dt
	h.e.Tick(h.p, h.now)
}

func clipAt(id, source string, start, duration, in float64) timeline.TimelineClip {
	return timeline.TimelineClip{
		ID:            timeline.TimelineClipID(id),
		SourceID:      timeline.ClipID(source),
		TimelineStart: start,
		Duration:      duration,
		SourceIn:      in,
		SourceOut:     in + duration,
	}
}

func newProject(video, audioClips []timeline.TimelineClip) *timeline.Project {
	p := &timeline.Project{Sources: make(map[timeline.ClipID]timeline.Source)}
	p.Timeline.VideoTracks = []timeline.Track{{ID: "v1", Clips: video}}
	if len(audioClips) > 0 {
		p.Timeline.AudioTracks = []timeline.Track{{ID: "a1", Clips: audioClips}}
	}
	for _, c := range append(append([]timeline.TimelineClip(nil), video...), audioClips...) {
		dur := 60.0
		p.Sources[c.SourceID] = timeline.Source{ID: c.SourceID, Path: string(c.SourceID) + ".mp4", Duration: &dur}
	}
	p.Playback.Speed = 1
	return p
}

func singleClip() *timeline.Project {
	return newProject([]timeline.TimelineClip{clipAt("c1", "s1", 0, 10, 0)}, nil)
}

func twoClips() *timeline.Project {
	return newProject([]timeline.TimelineClip{
		clipAt("a", "sa", 0, 5, 0),
		clipAt("b", "sb", 5, 7, 10),
	}, nil)
}
