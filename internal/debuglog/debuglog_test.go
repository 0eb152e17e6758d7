package debuglog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Event("engine/forward.go:apply", "H3", "frame applied", map[string]any{"pts": 1.5})

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "frame applied", ev["message"])
	assert.Equal(t, "engine/forward.go:apply", ev["location"])
	assert.Equal(t, "H3", ev["hypothesisId"])
	assert.Equal(t, l.RunID(), ev["runId"])
	assert.Contains(t, ev["id"], "log_")
	assert.NotNil(t, ev["timestamp"])
	assert.Equal(t, 1.5, ev["data"].(map[string]any)["pts"])
	assert.NotContains(t, ev, "level")
}

func TestEvent_RateLimited(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	for i := 0; i < 500; i++ {
		l.Event("loc", "H1", "burst", i)
	}
	written, dropped := l.Stats()
	assert.Equal(t, uint64(500), written+dropped)
	assert.Greater(t, dropped, uint64(0))

	lines := 0
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, int(written), lines)
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Event("a", "b", "c", nil)
		_ = l.Close()
	})
	assert.Empty(t, l.RunID())
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.ndjson")
	l, err := Open(path)
	require.NoError(t, err)
	l.Event("loc", "H1", "hello", nil)
	require.NoError(t, l.Close())
}
