// Package playback runs the playback engine of a non-linear video editor as
// a headless player.
//
// A Player owns one project and drives the engine from its own ticker
// goroutine. Each tick decides which decode pipelines must exist for the
// current playhead, direction and speed, pre-warms the next clip so boundary
// crossings are seamless, and fans displayed frames out on a display bus.
//
// # Quick Start
//
//	project, err := timeline.LoadProject("project.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := playback.New(playback.Options{Config: config.Default(), Project: project})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := p.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
//
//	frames, _ := p.Frames("renderer")
//	p.Play()
//	for {
//	    f := frames.Receive()
//	    render(f.RGBA, f.Width, f.Height)
//	}
//
// # Transport
//
// Play, PlayReverse, StopPlayback and TogglePlay change the transport state;
// Seek, SetSpeed, Scrub and Hover feed the same inputs an editor UI would.
// Commands are applied under the player lock and take effect on the next
// tick.
//
// # Frame Sources
//
// Every frame on the bus is tagged with where it came from:
//
//   - fwd: the forward pipeline
//   - rev: the reverse pipeline
//   - cache: the rewind cache bridging a reverse start
//   - decode: the on-demand decode worker (stopped, scrubbing or stalled)
//
// # Remote Control
//
// With mqtt.broker set, commands arrive as JSON on the control topic and
// responses plus periodic status go to the status topic, JSON or msgpack.
// With status.http_addr set, /health, /readiness and /status are served.
package playback
