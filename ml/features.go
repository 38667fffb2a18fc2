package ml

import (
	"fmt"
)

// FeatureVector is the fixed input of every outbreak classifier. Field order
// matches FeatureNames and is persisted with each trained artifact.
type FeatureVector struct {
	AvgNewCases7d float64
	Lag7d         float64
	Lag14d        float64
	GrowthRate7d  float64
	GrowthRate14d float64
}

// BuildFeatures derives the feature vector from the current smoothed rate and
// the smoothed rates 7 and 14 days earlier. Training and inference both go
// through here.
func BuildFeatures(current, lag7, lag14 float64) FeatureVector {
	return FeatureVector{
		AvgNewCases7d: current,
		Lag7d:         lag7,
		Lag14d:        lag14,
		GrowthRate7d:  current - lag7,
		GrowthRate14d: current - lag14,
	}
}

func (f FeatureVector) Values() []float64 {
	return []float64{
		f.AvgNewCases7d,
		f.Lag7d,
		f.Lag14d,
		f.GrowthRate7d,
		f.GrowthRate14d,
	}
}

func FeatureNames() []string {
	return []string{
		"avg_new_cases_7d",
		"lag_7d",
		"lag_14d",
		"growth_rate_7d",
		"growth_rate_14d",
	}
}

// CheckFeatureNames reports whether names matches FeatureNames exactly,
// including order.
func CheckFeatureNames(names []string) error {
	expected := FeatureNames()
	if len(names) != len(expected) {
		return fmt.Errorf("feature count mismatch: got %d, want %d", len(names), len(expected))
	}
	for i, name := range expected {
		if names[i] != name {
			return fmt.Errorf("feature %d mismatch: got %q, want %q", i, names[i], name)
		}
	}
	return nil
}
