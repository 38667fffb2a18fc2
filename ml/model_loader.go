package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"

	artifactVersion = 1
)

type artifact struct {
	Version      int           `json:"version"`
	Type         string        `json:"type"`
	FeatureNames []string      `json:"feature_names"`
	Config       *ForestConfig `json:"config,omitempty"`
	Trees        [][]TreeNode  `json:"trees"`
}

// EncodeModel writes a trained model together with the feature names it
// expects.
func EncodeModel(w io.Writer, model Classifier) error {
	payload := artifact{
		Version:      artifactVersion,
		FeatureNames: FeatureNames(),
	}
	switch m := model.(type) {
	case *RandomForest:
		if len(m.trees) == 0 {
			return errors.New("model not trained")
		}
		if m.featureCount != len(payload.FeatureNames) {
			return fmt.Errorf("model trained on %d features, want %d", m.featureCount, len(payload.FeatureNames))
		}
		config := m.config
		payload.Type = ModelTypeRandomForest
		payload.Config = &config
		for _, tree := range m.trees {
			payload.Trees = append(payload.Trees, tree.nodes)
		}
	case *DecisionTree:
		if len(m.nodes) == 0 {
			return errors.New("model not trained")
		}
		payload.Type = ModelTypeDecisionTree
		payload.Trees = [][]TreeNode{m.nodes}
	default:
		return fmt.Errorf("unsupported model %T", model)
	}
	return json.NewEncoder(w).Encode(payload)
}

// DecodeModel reads an artifact written by EncodeModel. Artifacts built for a
// different feature layout are rejected.
func DecodeModel(r io.Reader) (Classifier, error) {
	var payload artifact
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if payload.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", payload.Version)
	}
	if err := CheckFeatureNames(payload.FeatureNames); err != nil {
		return nil, err
	}
	if len(payload.Trees) == 0 {
		return nil, errors.New("artifact has no trees")
	}

	featureCount := len(payload.FeatureNames)
	trees := make([]*DecisionTree, 0, len(payload.Trees))
	for i, nodes := range payload.Trees {
		tree, err := treeFromNodes(nodes, featureCount)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees = append(trees, tree)
	}

	switch payload.Type {
	case ModelTypeRandomForest:
		config := DefaultForestConfig()
		if payload.Config != nil {
			config = *payload.Config
		}
		return &RandomForest{config: config, trees: trees, featureCount: featureCount}, nil
	case ModelTypeDecisionTree:
		if len(trees) != 1 {
			return nil, fmt.Errorf("decision tree artifact has %d trees", len(trees))
		}
		return trees[0], nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", payload.Type)
	}
}

func LoadModel(path string) (Classifier, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return DecodeModel(file)
}
