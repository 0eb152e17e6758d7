package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/wizard-playback/internal/audio"
	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/debuglog"
	"github.com/e7canasta/wizard-playback/internal/display"
	"github.com/e7canasta/wizard-playback/internal/engine"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/remote"
	"github.com/e7canasta/wizard-playback/internal/snapshot"
	"github.com/e7canasta/wizard-playback/internal/timeline"
	"github.com/e7canasta/wizard-playback/internal/workers"
)

const snapshotSubscriber = "snapshot"

// Player drives the engine for one project.
type Player struct {
	cfg        *config.Config
	factory    engine.Factory
	mediaErrs  *media.ErrorCounters
	noAudio    *workers.NoAudioPaths
	bus        *display.Bus
	now        func() time.Time
	manualTick bool

	decoder  engine.FrameDecoder
	snippets engine.SnippetSource
	output   *audio.Output

	// mu guards the project, the engine and the runtime
	mu          sync.Mutex
	project     *timeline.Project
	engine      *engine.Engine
	rt          *runtime
	epoch       time.Time
	subscribers []string
	healthAddr  string

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
}

// runtime holds what Start opens and Stop releases.
type runtime struct {
	device        *audio.Device
	decodeWorker  *workers.DecodeWorker
	snippetWorker *workers.SnippetWorker
	dlog          *debuglog.Logger
	emitter       *remote.Emitter
	handler       *remote.Handler
	health        *remote.HealthServer
}

// New validates opts and creates a stopped player. Nothing is opened until
// Start.
func New(opts Options) (*Player, error) {
	if opts.Project == nil {
		return nil, fmt.Errorf("playback: project is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	} else if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("playback: invalid configuration: %w", err)
	}

	p := &Player{
		cfg:        cfg,
		factory:    opts.Factory,
		mediaErrs:  &media.ErrorCounters{},
		noAudio:    workers.NewNoAudioPaths(),
		bus:        display.NewBus(),
		now:        opts.Now,
		manualTick: opts.ManualTick,
		decoder:    opts.Decoder,
		snippets:   opts.Snippets,
		output:     opts.Output,
		project:    opts.Project,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.factory == nil {
		p.factory = engine.NewGstFactory(p.mediaErrs)
	}
	if p.project.Playback.Speed <= 0 {
		p.project.Playback.Speed = 1
	}

	slog.Info("playback: player created",
		"instance_id", cfg.InstanceID,
		"duration", p.project.Timeline.Duration(),
		"sources", len(p.project.Sources),
		"tick_hz", cfg.TickHz,
		"audio", cfg.Audio.Enabled || opts.Output != nil,
	)
	return p, nil
}

// Start opens the audio device, workers and remote endpoints, then starts
// ticking at config.TickHz unless ManualTick is set.
//
// Returns ErrAlreadyStarted when running. A missing audio device or debug
// log only degrades the player; a broker that cannot be reached fails Start.
func (p *Player) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel != nil {
		return ErrAlreadyStarted
	}

	rt := &runtime{}
	output := p.output
	if output == nil && p.cfg.Audio.Enabled {
		dev, err := audio.OpenDevice(p.cfg.Audio.SampleRateHz, p.cfg.Audio.Channels)
		if err != nil {
			slog.Warn("playback: audio device unavailable, continuing without audio", "error", err)
		} else {
			rt.device = dev
			output = dev.Output()
		}
	}

	decoder := p.decoder
	if decoder == nil {
		rt.decodeWorker = workers.NewDecodeWorker(media.OpenFrameDecoder, p.cfg.Tuning.VideoDecodeBucketRate)
		decoder = rt.decodeWorker
	}
	snippets := p.snippets
	if snippets == nil && output != nil {
		rt.snippetWorker = workers.NewSnippetWorker(media.OpenAudioDecoder, media.HasAudioStream, p.noAudio)
		snippets = rt.snippetWorker
	}

	if p.cfg.DebugLog.Enabled {
		dlog, err := debuglog.Open(p.cfg.DebugLog.Path)
		if err != nil {
			slog.Warn("playback: debug log disabled", "error", err)
		} else {
			rt.dlog = dlog
		}
	}

	eng := engine.New(engine.Options{
		Tuning:     p.cfg.Tuning,
		SampleRate: p.cfg.Audio.SampleRateHz,
		Channels:   p.cfg.Audio.Channels,
		Factory:    p.factory,
		Display:    p.bus,
		Output:     output,
		Decoder:    decoder,
		Snippets:   snippets,
		NoAudio:    p.noAudio,
		DebugLog:   rt.dlog,
	})

	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.engine = eng
	p.rt = rt
	p.epoch = p.now()
	p.mu.Unlock()
	p.cancel = cancel

	if err := p.startSnapshots(runCtx); err != nil {
		return errors.Join(err, p.shutdown())
	}
	if err := p.startRemote(runCtx, rt); err != nil {
		return errors.Join(err, p.shutdown())
	}

	if !p.manualTick {
		interval := time.Second / time.Duration(p.cfg.TickHz)
		p.wg.Add(1)
		go p.run(runCtx, interval)
	}
	p.running.Store(true)

	slog.Info("playback: player started",
		"instance_id", p.cfg.InstanceID,
		"audio_device", rt.device != nil,
		"remote", rt.emitter != nil,
		"health_addr", p.HealthAddr(),
		"debug_log", rt.dlog.RunID(),
	)
	return nil
}

func (p *Player) startSnapshots(ctx context.Context) error {
	sc := p.cfg.Snapshot
	if sc.Dir == "" {
		return nil
	}
	saver, err := snapshot.New(sc.Dir, sc.EveryNFrame, sc.Width)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	ch := make(chan display.Frame, 4)
	if err := p.Subscribe(snapshotSubscriber, ch); err != nil {
		return fmt.Errorf("playback: snapshot subscription failed: %w", err)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		saver.Run(ctx, ch)
		saved, dropped := saver.Stats()
		slog.Info("playback: snapshots stopped", "saved", saved, "dropped", dropped, "dir", sc.Dir)
	}()
	return nil
}

func (p *Player) startRemote(ctx context.Context, rt *runtime) error {
	if p.cfg.MQTT.Broker != "" {
		emitter := remote.NewEmitter(p.cfg.MQTT, p.cfg.Status.PublishRateHz)
		if err := emitter.Connect(ctx); err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		handler := remote.NewHandler(p.cfg.MQTT, emitter.Client(), p.callbacks())
		p.mu.Lock()
		rt.emitter, rt.handler = emitter, handler
		p.mu.Unlock()
		if err := handler.Start(ctx); err != nil {
			return fmt.Errorf("playback: %w", err)
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			emitter.Run(ctx, func() interface{} { return p.Stats() })
		}()
	}

	if p.cfg.Status.HTTPAddr != "" {
		health := remote.NewHealthServer(p)
		addr, err := health.Start(p.cfg.Status.HTTPAddr)
		if err != nil {
			return fmt.Errorf("playback: health server: %w", err)
		}
		p.mu.Lock()
		rt.health = health
		p.healthAddr = addr
		p.mu.Unlock()
	}
	return nil
}

func (p *Player) run(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick runs one engine step. The ticker goroutine calls it; with
// ManualTick the host calls it from its own frame loop. No-op when stopped.
func (p *Player) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine == nil {
		return
	}
	p.engine.Tick(p.project, p.seconds())
}

// seconds is engine time. Callers hold mu.
func (p *Player) seconds() float64 {
	return p.now().Sub(p.epoch).Seconds()
}

// Stop shuts the player down.
//
// This method:
//  1. Cancels the tick loop, snapshot writer and status publisher
//  2. Waits up to shutdown_timeout_s for them to finish
//  3. Closes every pipeline and resets audio
//  4. Releases the workers, audio device, MQTT connection and health server
//
// Idempotent; a stopped player can be started again.
func (p *Player) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel == nil {
		slog.Debug("playback: player not started, nothing to stop")
		return nil
	}
	slog.Info("playback: stopping player")
	return p.shutdown()
}

// shutdown releases everything Start opened. Callers hold lifecycle.
func (p *Player) shutdown() error {
	p.running.Store(false)
	p.cancel()

	timeout := time.Duration(p.cfg.ShutdownTimeoutS) * time.Second
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Debug("playback: goroutines stopped cleanly")
	case <-time.After(timeout):
		slog.Warn("playback: stop timeout exceeded, some goroutines may still be running")
	}

	p.mu.Lock()
	eng, rt := p.engine, p.rt
	var stats engine.Stats
	if eng != nil {
		stats = eng.Stats(p.project, p.seconds())
		eng.Close()
	}
	p.engine, p.rt, p.healthAddr = nil, nil, ""
	p.mu.Unlock()

	if err := p.bus.Unsubscribe(snapshotSubscriber); err == nil {
		p.forget(snapshotSubscriber)
	}

	var errs []error
	if rt != nil {
		errs = append(errs, rt.close(timeout))
	}
	p.cancel = nil

	slog.Info("playback: player stopped",
		"frames_published", p.bus.TotalPublished(),
		"forward_starts", stats.ForwardStarts,
		"promotions", stats.Promotions,
		"open_failures", stats.OpenFailures,
	)
	return errors.Join(errs...)
}

func (rt *runtime) close(timeout time.Duration) error {
	var errs []error
	if rt.handler != nil {
		errs = append(errs, rt.handler.Stop())
	}
	if rt.emitter != nil {
		rt.emitter.Disconnect()
	}
	if rt.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, rt.health.Shutdown(ctx))
		cancel()
	}
	if rt.decodeWorker != nil {
		errs = append(errs, rt.decodeWorker.Close())
	}
	if rt.snippetWorker != nil {
		errs = append(errs, rt.snippetWorker.Close())
	}
	if rt.device != nil {
		errs = append(errs, rt.device.Close())
	}
	if rt.dlog != nil {
		errs = append(errs, rt.dlog.Close())
	}
	return errors.Join(errs...)
}

// Close stops the player and closes the display bus. The player cannot be
// restarted afterwards.
func (p *Player) Close() error {
	err := p.Stop()
	p.bus.Close()
	return err
}

// Frames registers a latest-frame-wins receiver, the way a renderer
// consumes the display.
func (p *Player) Frames(id string) (display.Receiver, error) {
	r, err := p.bus.SubscribeDropOld(id)
	if err != nil {
		return nil, err
	}
	p.remember(id)
	return r, nil
}

// Subscribe registers an observer channel. Frames are dropped when ch is
// full.
func (p *Player) Subscribe(id string, ch chan<- display.Frame) error {
	if err := p.bus.Subscribe(id, ch); err != nil {
		return err
	}
	p.remember(id)
	return nil
}

func (p *Player) remember(id string) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, id)
	p.mu.Unlock()
}

func (p *Player) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subscribers {
		if s == id {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// HealthAddr returns the bound health server address, empty when disabled.
func (p *Player) HealthAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthAddr
}

// Stats returns a snapshot. Safe to call from any goroutine.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		InstanceID:  p.cfg.InstanceID,
		Running:     p.running.Load(),
		MediaErrors: p.mediaErrs.Snapshot(),
	}

	if p.engine != nil {
		s.Engine = p.engine.Stats(p.project, p.seconds())
		s.UptimeSeconds = p.seconds()
	} else {
		pb := p.project.Playback
		s.Engine = engine.Stats{State: pb.State.String(), Playhead: pb.Playhead, Speed: pb.EffectiveSpeed()}
	}

	s.Display.Published = p.bus.TotalPublished()
	for _, id := range p.subscribers {
		if st, err := p.bus.Stats(id); err == nil {
			s.Display.ObserversDropped += st.Dropped
		}
	}

	if rt := p.rt; rt != nil {
		if rt.device != nil {
			s.Audio.Device = true
			s.Audio.Played, s.Audio.Silence = rt.device.Stats()
		}
		if rt.decodeWorker != nil {
			ds := rt.decodeWorker.Stats()
			s.Decode = &ds
		}
		if rt.snippetWorker != nil {
			var ss SnippetStats
			ss.Decoded, ss.CacheHits, ss.Skipped = rt.snippetWorker.Stats()
			s.Snippets = &ss
		}
		if rt.emitter != nil {
			es := rt.emitter.Stats()
			s.Remote = &es
		}
		if rt.dlog != nil {
			s.DebugEvents, s.DebugDropped = rt.dlog.Stats()
		}
	}
	return s
}

// HealthCheck implements remote.StatusSource.
func (p *Player) HealthCheck() remote.HealthStatus {
	s := p.Stats()
	h := remote.HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(s.UptimeSeconds),
		Running:       s.Running,
		State:         s.Engine.State,
		AudioDevice:   s.Audio.Device,
	}
	if s.Remote != nil {
		h.MQTTConnected = s.Remote.Connected
	}
	for _, info := range []*engine.PipelineInfo{s.Engine.Forward, s.Engine.Reverse} {
		if info != nil && (info.Status == engine.StatusStalled.String() || info.Status == engine.StatusLongStall.String()) {
			h.Stalled = true
		}
	}

	switch {
	case !h.Running:
		h.Status = "unhealthy"
	case h.Stalled, p.cfg.MQTT.Broker != "" && !h.MQTTConnected:
		h.Status = "degraded"
	}
	return h
}

// StatusSnapshot implements remote.StatusSource.
func (p *Player) StatusSnapshot() interface{} { return p.Stats() }
