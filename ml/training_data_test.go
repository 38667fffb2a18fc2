package ml

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestGenerateLabelsThreshold(t *testing.T) {
	rates := make([]float64, LookAheadDays+1)
	rates[0] = 10

	rates[LookAheadDays] = 15
	labels, err := GenerateLabels(rates, LookAheadDays, OutbreakThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(labels) != 1 || labels[0] != 1 {
		t.Fatalf("expected label 1 at exactly 1.5x, got %v", labels)
	}

	rates[LookAheadDays] = 14.9
	labels, _ = GenerateLabels(rates, LookAheadDays, OutbreakThreshold)
	if labels[0] != 0 {
		t.Fatalf("expected label 0 at 1.49x, got %d", labels[0])
	}
}

func TestGenerateLabelsFlatZeroIsPositive(t *testing.T) {
	labels, err := GenerateLabels([]float64{0, 0, 0}, 1, OutbreakThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, label := range labels {
		if label != 1 {
			t.Fatalf("index %d: expected 1 for 0 >= 0, got %d", i, label)
		}
	}
}

func TestGenerateLabelsRejectsBadArguments(t *testing.T) {
	if _, err := GenerateLabels([]float64{1, 2}, 0, 1.5); err == nil {
		t.Fatal("expected error for zero lookAhead")
	}
	if labels, err := GenerateLabels([]float64{1, 2}, 5, 1.5); err != nil || labels != nil {
		t.Fatalf("expected no labels for short series, got %v %v", labels, err)
	}
}

func TestBuildTrainingSet(t *testing.T) {
	rates := make([]float64, 40)
	for i := range rates {
		rates[i] = float64(i + 1)
	}
	features, labels, err := BuildTrainingSet(rates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rows 14..25 have both a 14-row lag and a 14-row lookahead
	if len(features) != 12 || len(labels) != 12 {
		t.Fatalf("expected 12 rows, got %d/%d", len(features), len(labels))
	}
	want := BuildFeatures(rates[14], rates[7], rates[0]).Values()
	for i := range want {
		if features[0][i] != want[i] {
			t.Fatalf("feature %d: got %v, want %v", i, features[0][i], want[i])
		}
	}
	// rate 15 -> 29 is below 1.5x
	if labels[0] != 0 {
		t.Fatalf("expected label 0, got %d", labels[0])
	}
}

func TestDataPreprocessorInsufficientHistory(t *testing.T) {
	p := &DataPreprocessor{}
	_, err := p.Prepare(constantTimeline(30, 10))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := p.Prepare(nil); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory for nil timeline, got %v", err)
	}
}

func TestDataPreprocessorSingleClass(t *testing.T) {
	p := &DataPreprocessor{}
	set, err := p.Prepare(constantTimeline(120, 10))
	if !errors.Is(err, ErrSingleClass) {
		t.Fatalf("expected ErrSingleClass, got %v", err)
	}
	if set.Len() == 0 || set.Classes() != 1 {
		t.Fatalf("expected a one-class set, got %d rows / %d classes", set.Len(), set.Classes())
	}
}

func TestDataPreprocessorWave(t *testing.T) {
	p := &DataPreprocessor{MinObservations: 50}
	set, err := p.Prepare(waveTimeline(120))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 120 days -> 114 smoothed rates -> 100 labelled -> 86 with full lags
	if set.Len() != 86 {
		t.Fatalf("expected 86 rows, got %d", set.Len())
	}
	if set.Classes() != 2 {
		t.Fatalf("expected both classes, got %d", set.Classes())
	}
	for _, row := range set.Features {
		if len(row) != len(FeatureNames()) {
			t.Fatalf("unexpected row width %d", len(row))
		}
	}
}

func constantTimeline(days int, daily float64) *Timeline {
	tl := NewTimeline()
	start := time.Date(2020, 1, 22, 0, 0, 0, 0, time.UTC)
	total := 0.0
	for d := 0; d < days; d++ {
		total += daily
		tl.Add(start.AddDate(0, 0, d), total)
	}
	return tl
}

// waveTimeline is flat for 40 days, grows 8% a day for 30 days, then stays
// at the peak.
func waveTimeline(days int) *Timeline {
	tl := NewTimeline()
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
