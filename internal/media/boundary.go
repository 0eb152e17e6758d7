package media

import (
	"path/filepath"
	"strings"
)

const (
	defaultBoundaryThreshold = 0.12
	mpegBoundaryThreshold    = 0.4
)

// BoundaryThreshold returns how close (seconds) reverse playback must get to
// a clip's in point to count as having reached it. Low frame rate MPEG-1/2
// program streams get a wider window.
func BoundaryThreshold(path string) float64 {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mpg", ".mpeg":
		return mpegBoundaryThreshold
	default:
		return defaultBoundaryThreshold
	}
}
