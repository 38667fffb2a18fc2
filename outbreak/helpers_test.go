package outbreak

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"outbreakcast/ml"
)

func constantTimeline(days int, daily float64) *ml.Timeline {
	tl := ml.NewTimeline()
	start := time.Date(2020, 1, 22, 0, 0, 0, 0, time.UTC)
	total := 0.0
	for d := 0; d < days; d++ {
		total += daily
		tl.Add(start.AddDate(0, 0, d), total)
	}
	return tl
}

// waveTimeline is flat for 40 days, grows 8% a day for 30 days, then stays
// at the peak. It yields both label classes.
func waveTimeline(days int) *ml.Timeline {
	tl := ml.NewTimeline()
	start := time.Date(2020, 1, 22, 0, 0, 0, 0, time.UTC)
	total := 0.0
	for d := 0; d < days; d++ {
		daily := 20.0
		switch {
		case d >= 70:
			daily = 20 * math.Pow(1.08, 30)
		case d >= 40:
			daily = 20 * math.Pow(1.08, float64(d-39))
		}
		total += daily
		tl.Add(start.AddDate(0, 0, d), total)
	}
	return tl
}

func trainedForest(t *testing.T) *ml.RandomForest {
	t.Helper()
	set, err := (&ml.DataPreprocessor{}).Prepare(waveTimeline(120))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	forest := ml.NewRandomForest(ml.DefaultForestConfig())
	if err := forest.Train(set.Features, set.Labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return forest
}

type fakeSource struct {
	countries    []string
	timelines    map[string]*ml.Timeline
	countriesErr error
	timelineErrs map[string]error
}

func (s *fakeSource) Countries(ctx context.Context) ([]string, error) {
	if s.countriesErr != nil {
		return nil, s.countriesErr
	}
	return s.countries, nil
}

func (s *fakeSource) CaseTimeline(ctx context.Context, country string) (*ml.Timeline, error) {
	if err := s.timelineErrs[country]; err != nil {
		return nil, err
	}
	return s.timelines[country], nil
}

// countingStore wraps a ModelStore and counts Load calls.
type countingStore struct {
	ModelStore
	mu    sync.Mutex
	loads int
}

func (s *countingStore) Load(country string) (ml.Classifier, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.ModelStore.Load(country)
}

func (s *countingStore) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// failingModel always errors at inference.
type failingModel struct{}

func (failingModel) Predict([]float64) (int, float64, error) {
	return 0, 0, errors.New("boom")
}

type memoryStore struct {
	models map[string]ml.Classifier
}

func (s *memoryStore) Load(country string) (ml.Classifier, error) {
	model, ok := s.models[ModelKey(country)]
	if !ok {
		return nil, ErrModelNotFound
	}
	return model, nil
}

func (s *memoryStore) Save(country string, model ml.Classifier) error {
	s.models[ModelKey(country)] = model
	return nil
}
