package fpsstats

import (
	"math"
	"time"
)

const (
	// A delivery is stable when the FPS stddev stays below 15% of the mean
	fpsStabilityThreshold = 0.15

	// and mean jitter stays below 20% of the expected interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarises a sequence of frame arrival times.
type Stats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	IsStable       bool

	JitterMean   float64 // seconds
	JitterStdDev float64
	JitterMax    float64
}

// Calculate computes delivery statistics from frame arrival times.
//
// This function:
//  1. Calculates mean FPS (overall)
//  2. Calculates instantaneous FPS for each frame interval
//  3. Finds min/max instantaneous FPS
//  4. Calculates standard deviation of instantaneous FPS
//  5. Calculates jitter (deviation from the expected interval)
//  6. Determines stability (stddev < 15% of mean AND jitter < 20%)
func Calculate(frameTimes []time.Time, total time.Duration) *Stats {
	n := len(frameTimes)
	st := &Stats{FramesReceived: n, Duration: total}
	if n == 0 || total <= 0 {
		return st
	}

	st.FPSMean = float64(n) / total.Seconds()

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); iv > 0 {
			intervals = append(intervals, iv)
		}
	}
	if len(intervals) == 0 {
		return st
	}

	st.FPSMin = math.Inf(1)
	var sumSquares float64
	for _, iv := range intervals {
		fps := 1 / iv
		st.FPSMin = min(st.FPSMin, fps)
		st.FPSMax = max(st.FPSMax, fps)
		d := fps - st.FPSMean
		sumSquares += d * d
	}
	st.FPSStdDev = math.Sqrt(sumSquares / float64(len(intervals)))

	expected := 1 / st.FPSMean
	var jitterSum float64
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		jitterSum += j
		st.JitterMax = max(st.JitterMax, j)
	}
	st.JitterMean = jitterSum / float64(len(jitters))

	var jitterSq float64
	for _, j := range jitters {
		d := j - st.JitterMean
		jitterSq += d * d
	}
	st.JitterStdDev = math.Sqrt(jitterSq / float64(len(jitters)))

	st.IsStable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}
