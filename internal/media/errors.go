package media

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies GStreamer failures for telemetry and retry policy.
type ErrorCategory int

const (
	// ErrCategoryCodec indicates missing decoders or negotiation failures
	ErrCategoryCodec ErrorCategory = iota
	// ErrCategoryNotFound indicates the file could not be opened
	ErrCategoryNotFound
	// ErrCategoryResource indicates I/O or resource exhaustion
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryNotFound:
		return "not-found"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Retryable reports whether reopening might succeed.
func (e ErrorCategory) Retryable() bool {
	return e == ErrCategoryResource || e == ErrCategoryUnknown
}

// PipelineError is a classified error reported on a pipeline bus.
type PipelineError struct {
	Category ErrorCategory
	Message  string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("media: pipeline error [%s]: %s", e.Category, e.Message)
}

// CategoryOf extracts the category of err, ErrCategoryUnknown if none.
func CategoryOf(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, ErrInvalidPath) {
		return ErrCategoryNotFound
	}
	return ErrCategoryUnknown
}

// ClassifyGStreamerError categorises a bus error by message keywords.
// go-gst's GError does not expose its domain, so matching is textual.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error() + " " + gerr.DebugString())
}

// ClassifyMessage categorises an error text.
func ClassifyMessage(msg string) ErrorCategory {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, notFoundKeywords):
		return ErrCategoryNotFound
	case containsAny(m, codecKeywords):
		return ErrCategoryCodec
	case containsAny(m, resourceKeywords):
		return ErrCategoryResource
	default:
		return ErrCategoryUnknown
	}
}

var (
	notFoundKeywords = []string{
		"no such file",
		"not found",
		"could not open",
		"resource not found",
		"permission denied",
	}
	codecKeywords = []string{
		"codec",
		"decode",
		"no decoder",
		"missing plugin",
		"not negotiated",
		"not-negotiated",
		"negotiation",
		"caps",
		"format",
		"demux",
		"stream type",
	}
	resourceKeywords = []string{
		"read",
		"resource",
		"busy",
		"memory",
		"timeout",
		"internal data stream error",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// ErrorCounters counts errors per category. Safe for concurrent use.
type ErrorCounters struct {
	Codec    atomic.Uint64
	NotFound atomic.Uint64
	Resource atomic.Uint64
	Unknown  atomic.Uint64
}

// Add increments the counter for c.
func (ec *ErrorCounters) Add(c ErrorCategory) {
	if ec == nil {
		return
	}
	switch c {
	case ErrCategoryCodec:
		ec.Codec.Add(1)
	case ErrCategoryNotFound:
		ec.NotFound.Add(1)
	case ErrCategoryResource:
		ec.Resource.Add(1)
	default:
		ec.Unknown.Add(1)
	}
}

// Snapshot returns the counts keyed by category name.
func (ec *ErrorCounters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		ErrCategoryCodec.String():    ec.Codec.Load(),
		ErrCategoryNotFound.String(): ec.NotFound.Load(),
		ErrCategoryResource.String(): ec.Resource.Load(),
		ErrCategoryUnknown.String():  ec.Unknown.Load(),
	}
}
