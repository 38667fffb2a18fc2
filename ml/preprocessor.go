package ml

import (
	"errors"
	"fmt"
)

const DefaultMinObservations = 50

var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrEmptyTrainingSet    = errors.New("no labelled rows")
	ErrSingleClass         = errors.New("only one label class present")
)

// TrainingSet is the labelled output of DataPreprocessor.Prepare.
type TrainingSet struct {
	Features [][]float64
	Labels   []int
}

func (s TrainingSet) Len() int {
	return len(s.Labels)
}

func (s TrainingSet) Classes() int {
	return ClassCount(s.Labels)
}

// DataPreprocessor reshapes a country's cumulative case history into a
// labelled training set.
type DataPreprocessor struct {
	MinObservations int
}

func (p *DataPreprocessor) minObservations() int {
	if p == nil || p.MinObservations <= 0 {
		return DefaultMinObservations
	}
	return p.MinObservations
}

// SmoothedRates returns the 7-day trailing mean of daily new cases for the
// timeline, oldest first.
func SmoothedRates(t *Timeline) []float64 {
	return RollingMean(DailyNewCases(t.CumulativeCases()), SmoothingWindow)
}

// Prepare returns the training set for t. The returned set is always
// populated when err is nil; ErrEmptyTrainingSet and ErrSingleClass are
// returned alongside whatever rows were built so callers can report them.
func (p *DataPreprocessor) Prepare(t *Timeline) (TrainingSet, error) {
	if n := t.Len(); n < p.minObservations() {
		return TrainingSet{}, fmt.Errorf("%w: %d points, need %d", ErrInsufficientHistory, n, p.minObservations())
	}

	features, labels, err := BuildTrainingSet(SmoothedRates(t))
	if err != nil {
		return TrainingSet{}, err
	}
	set := TrainingSet{Features: features, Labels: labels}
	if set.Len() == 0 {
		return set, ErrEmptyTrainingSet
	}
	if set.Classes() < 2 {
		return set, fmt.Errorf("%w: label %d", ErrSingleClass, set.Labels[0])
	}
	return set, nil
}
