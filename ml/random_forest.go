package ml

import (
	"errors"
	"fmt"
	"math/rand"
)

type ForestConfig struct {
	Trees       int   `json:"trees" yaml:"trees"`
	MaxDepth    int   `json:"max_depth" yaml:"max_depth"`
	MaxFeatures int   `json:"max_features" yaml:"max_features"`
	Seed        int64 `json:"seed" yaml:"seed"`
}

// DefaultForestConfig is 50 trees of depth 5 considering two of the five
// features per split, seeded for reproducible retraining.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:       50,
		MaxDepth:    5,
		MaxFeatures: 2,
		Seed:        42,
	}
}

func (c ForestConfig) withDefaults() ForestConfig {
	defaults := DefaultForestConfig()
	if c.Trees <= 0 {
		c.Trees = defaults.Trees
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaults.MaxDepth
	}
	if c.MaxFeatures < 0 {
		c.MaxFeatures = 0
	}
	return c
}

// RandomForest bags decision trees grown on bootstrap samples.
type RandomForest struct {
	config       ForestConfig
	trees        []*DecisionTree
	featureCount int
}

func NewRandomForest(config ForestConfig) *RandomForest {
	return &RandomForest{config: config.withDefaults()}
}

func (rf *RandomForest) Config() ForestConfig {
	return rf.config
}

func (rf *RandomForest) Trees() int {
	return len(rf.trees)
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := validateTrainingData(features, labels); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(rf.config.Seed))
	n := len(labels)
	trees := make([]*DecisionTree, 0, rf.config.Trees)
	for t := 0; t < rf.config.Trees; t++ {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		tree := &DecisionTree{
			maxDepth:        rf.config.MaxDepth,
			maxFeatures:     rf.config.MaxFeatures,
			minSamplesSplit: 2,
			rng:             rng,
		}
		tree.fit(features, labels, sample)
		trees = append(trees, tree)
	}
	rf.trees = trees
	rf.featureCount = len(features[0])
	return nil
}

// Predict averages the trees' class-1 probabilities. Class 1 wins only on a
// strict majority of probability mass.
func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	if len(rf.trees) == 0 {
		return 0, 0, errors.New("model not trained")
	}
	if len(features) != rf.featureCount {
		return 0, 0, fmt.Errorf("got %d features, want %d", len(features), rf.featureCount)
	}
	sum := 0.0
	for i, tree := range rf.trees {
		_, probability, err := tree.Predict(features)
		if err != nil {
			return 0, 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += probability
	}
	probability := sum / float64(len(rf.trees))
	label := 0
	if probability > 0.5 {
		label = 1
	}
	return label, probability, nil
}
