package ml

// DailyNewCases turns cumulative counts into per-day increments. The first
// day has no predecessor and counts as zero; downward corrections clamp to
// zero.
func DailyNewCases(cumulative []float64) []float64 {
	if len(cumulative) == 0 {
		return nil
	}
	daily := make([]float64, len(cumulative))
	for i := 1; i < len(cumulative); i++ {
		diff := cumulative[i] - cumulative[i-1]
		if diff < 0 {
			diff = 0
		}
		daily[i] = diff
	}
	return daily
}

// RollingMean returns the trailing mean of every complete window, so the
// result has len(values)-window+1 entries and result[0] covers
// values[0:window].
func RollingMean(values []float64, window int) []float64 {
	if window <= 0 || len(values) < window {
		return nil
	}
	out := make([]float64, 0, len(values)-window+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

// LagAt returns values[i-lag] and whether that index exists.
func LagAt(values []float64, i, lag int) (float64, bool) {
	j := i - lag
	if j < 0 || j >= len(values) {
		return 0, false
	}
	return values[j], true
}
