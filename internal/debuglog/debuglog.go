// Package debuglog appends structured diagnostic events to an NDJSON file.
//
// Each line is {id, timestamp, location, message, data, runId, hypothesisId}.
// A nil *Logger is valid and discards everything.
package debuglog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Logger writes debug events. Safe for concurrent use.
type Logger struct {
	log     *slog.Logger
	closer  io.Closer
	runID   string
	limiter *rate.Limiter
	written atomic.Uint64
	dropped atomic.Uint64
}

// Open appends to path, creating it if needed.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("debuglog: failed to open %s: %w", path, err)
	}
	l := New(f)
	l.closer = f
	slog.Info("debuglog: writing events", "path", path, "run_id", l.runID)
	return l, nil
}

// New writes events to w.
func New(w io.Writer) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Int64("timestamp", a.Value.Time().UnixMilli())
			case slog.MessageKey:
				a.Key = "message"
			case slog.LevelKey:
				return slog.Attr{}
			}
			return a
		},
	})
	return &Logger{
		log:     slog.New(h),
		runID:   uuid.NewString(),
		limiter: rate.NewLimiter(rate.Limit(200), 50),
	}
}

// RunID identifies this process in the log.
func (l *Logger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Event records one event. location names the code site, hypothesisID the
// diagnostic question the event answers. Events above the rate limit are
// counted and dropped.
func (l *Logger) Event(location, hypothesisID, message string, data any) {
	if l == nil {
		return
	}
	if !l.limiter.Allow() {
		l.dropped.Add(1)
		return
	}
	l.log.Debug(message,
		slog.String("id", fmt.Sprintf("log_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])),
		slog.String("location", location),
		slog.Any("data", data),
		slog.String("runId", l.runID),
		slog.String("hypothesisId", hypothesisID),
	)
	l.written.Add(1)
}

// Stats returns (events written, events dropped by the rate limit).
func (l *Logger) Stats() (written, dropped uint64) {
	if l == nil {
		return 0, 0
	}
	return l.written.Load(), l.dropped.Load()
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
