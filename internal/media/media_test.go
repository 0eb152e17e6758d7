package media

import (
	"context"
	"errors"
	"math"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool_CapsAndReuses(t *testing.T) {
	var p BufferPool
	for i := 0; i < 12; i++ {
		p.Put(make([]byte, 16))
	}
	assert.Equal(t, maxPooledBuffers, p.Len())

	b := p.Get(8)
	assert.Len(t, b, 8)
	assert.GreaterOrEqual(t, cap(b), 16)
	assert.Equal(t, maxPooledBuffers-1, p.Len())

	// too small buffers are discarded, not returned
	var q BufferPool
	q.Put(make([]byte, 4))
	assert.Len(t, q.Get(64), 64)
	assert.Equal(t, 0, q.Len())
}

func TestBoundaryThreshold(t *testing.T) {
	tests := []struct {
		path string
		want float64
	}{
		{"/media/clip.mp4", 0.12},
		{"/media/clip.MOV", 0.12},
		{"/media/old.mpg", 0.4},
		{"/media/OLD.MPEG", 0.4},
		{"noext", 0.12},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, BoundaryThreshold(tt.path))
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCategory
	}{
		{"Resource not found.", ErrCategoryNotFound},
		{"Could not open file \"/x.mp4\" for reading: No such file", ErrCategoryNotFound},
		{"No decoder available for type 'video/x-h265'", ErrCategoryCodec},
		{"streaming stopped, reason not-negotiated", ErrCategoryCodec},
		{"Internal data stream error.", ErrCategoryResource},
		{"something odd", ErrCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.msg))
		})
	}
}

func TestErrorCounters(t *testing.T) {
	var ec ErrorCounters
	ec.Add(ErrCategoryCodec)
	ec.Add(ErrCategoryCodec)
	ec.Add(ErrCategoryNotFound)
	snap := ec.Snapshot()
	assert.Equal(t, uint64(2), snap["codec"])
	assert.Equal(t, uint64(1), snap["not-found"])
	assert.Equal(t, uint64(0), snap["unknown"])

	var nilCounters *ErrorCounters
	assert.NotPanics(t, func() { nilCounters.Add(ErrCategoryUnknown) })
}

func TestOpenWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		v, err := OpenWithRetry(context.Background(), "t", cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &PipelineError{Category: ErrCategoryResource, Message: "busy"}
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("codec errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := OpenWithRetry(context.Background(), "t", cfg, func() (int, error) {
			calls++
			return 0, &PipelineError{Category: ErrCategoryCodec, Message: "no decoder"}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, ErrCategoryCodec, CategoryOf(err))
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := OpenWithRetry(context.Background(), "t", cfg, func() (int, error) {
			calls++
			return 0, errors.New("flaky")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := OpenWithRetry(ctx, "t", cfg, func() (int, error) { return 1, nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 50*time.Millisecond, calculateBackoff(1, cfg))
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(2, cfg))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(10, cfg))
}

func TestCategoryOf_InvalidPath(t *testing.T) {
	assert.Equal(t, ErrCategoryNotFound, CategoryOf(ErrInvalidPath))
}

// Property: decoding F32LE bytes and duplicating to n channels yields n
// copies of every sample, in order.
func TestPCM_DuplicateChannelsProperty(t *testing.T) {
	f := func(samples []float32, ch uint8) bool {
		channels := int(ch%8) + 1
		raw := make([]byte, 0, len(samples)*4)
		for _, s := range samples {
			bits := math.Float32bits(s)
			raw = append(raw, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		}
		mono := appendF32LE(nil, raw)
		out := duplicateChannels(nil, mono, channels)
		if len(out) != len(samples)*channels {
			return false
		}
		for i, s := range samples {
			for c := 0; c < channels; c++ {
				got := out[i*channels+c]
				if math.Float32bits(got) != math.Float32bits(s) {
					return false
				}
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestCaps(t *testing.T) {
	assert.Equal(t, "video/x-raw,format=RGBA,width=640,height=360", VideoCaps(640, 360))
	assert.Equal(t, "audio/x-raw,format=F32LE,layout=interleaved,channels=1,rate=48000", AudioCaps(48000))
}
