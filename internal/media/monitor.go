package media

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// busInfo identifies a pipeline in monitor logs.
type busInfo struct {
	ID        string
	Kind      string
	Path      string
	StartedAt time.Time
}

// monitorBus watches the pipeline bus until stop is closed or the pipeline
// ends.
//
// This function:
//  1. Polls the bus with a short timeout for responsive shutdown
//  2. Classifies and counts errors
//  3. Logs EOS and state changes of the pipeline itself
//
// Returns nil on stop, or an error describing why the pipeline ended (EOS or
// a bus error). The caller treats either as a quiet termination.
func monitorBus(stop <-chan struct{}, pipeline *gst.Pipeline, counters *ErrorCounters, info busInfo) error {
	if pipeline == nil {
		return fmt.Errorf("media: pipeline not initialized")
	}
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Debug("media: end of stream",
				"id", info.ID,
				"kind", info.Kind,
				"path", info.Path,
				"uptime", time.Since(info.StartedAt),
			)
			return fmt.Errorf("media: end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.Add(category)

			slog.Warn("media: pipeline error",
				"id", info.ID,
				"kind", info.Kind,
				"path", info.Path,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
			return &PipelineError{Category: category, Message: gerr.Error()}

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, cur := msg.ParseStateChanged()
				slog.Debug("media: pipeline state changed",
					"id", info.ID,
					"kind", info.Kind,
					"from", old,
					"to", cur,
				)
			}
		}
	}
}
