package ml

import (
	"errors"
)

const (
	SmoothingWindow   = 7
	LookAheadDays     = 14
	OutbreakThreshold = 1.5
	ShortLag          = 7
	LongLag           = 14
)

// GenerateLabels marks each smoothed rate with 1 when the rate lookAhead rows
// later is at least threshold times the current one. Rows without a
// lookAhead value are not labelled, so the result has
// len(rates)-lookAhead entries.
func GenerateLabels(rates []float64, lookAhead int, threshold float64) ([]int, error) {
	if lookAhead <= 0 {
		return nil, errors.New("lookAhead must be positive")
	}
	if threshold <= 0 {
		return nil, errors.New("threshold must be positive")
	}
	if len(rates) <= lookAhead {
		return nil, nil
	}
	labels := make([]int, len(rates)-lookAhead)
	for i := range labels {
		if rates[i+lookAhead] >= rates[i]*threshold {
			labels[i] = 1
		}
	}
	return labels, nil
}

// BuildTrainingSet pairs features and forward labels for every row of the
// smoothed series that has both a full lag history and a lookAhead value.
func BuildTrainingSet(rates []float64) (features [][]float64, labels []int, err error) {
	forward, err := GenerateLabels(rates, LookAheadDays, OutbreakThreshold)
	if err != nil {
		return nil, nil, err
	}
	for i := range forward {
		lag7, ok := LagAt(rates, i, ShortLag)
		if !ok {
			continue
		}
		lag14, ok := LagAt(rates, i, LongLag)
		if !ok {
			continue
		}
		features = append(features, BuildFeatures(rates[i], lag7, lag14).Values())
		labels = append(labels, forward[i])
	}
	return features, labels, nil
}

// ClassCount reports how many distinct labels are present.
func ClassCount(labels []int) int {
	seen := make(map[int]struct{}, 2)
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	return len(seen)
}
