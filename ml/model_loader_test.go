package ml

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncodeDecodeRandomForest(t *testing.T) {
	features, labels := separableDataset()
	forest := NewRandomForest(ForestConfig{Trees: 10, MaxDepth: 4, MaxFeatures: 2, Seed: 7})
	if err := forest.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := EncodeModel(&buf, forest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeModel(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored, ok := decoded.(*RandomForest)
	if !ok {
		t.Fatalf("expected *RandomForest, got %T", decoded)
	}
	if restored.Config().Seed != 7 || restored.Trees() != 10 {
		t.Fatalf("unexpected restored forest: %+v", restored.Config())
	}

	for _, row := range features {
		wantLabel, wantProb, _ := forest.Predict(row)
		gotLabel, gotProb, err := restored.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotLabel != wantLabel || gotProb != wantProb {
			t.Fatalf("prediction mismatch: %d/%v vs %d/%v", gotLabel, gotProb, wantLabel, wantProb)
		}
	}
}

func TestEncodeDecodeDecisionTree(t *testing.T) {
	features, labels := separableDataset()
	tree := NewDecisionTree(3)
	if err := tree.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "tree.model")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := EncodeModel(file, tree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file.Close()

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := loaded.(*DecisionTree); !ok {
		t.Fatalf("expected *DecisionTree, got %T", loaded)
	}
	label, _, err := loaded.Predict(features[39])
	if err != nil || label != 1 {
		t.Fatalf("expected label 1, got %d (%v)", label, err)
	}
}

func TestDecodeModelRejectsReorderedFeatures(t *testing.T) {
	payload := `{"version":1,"type":"decision_tree",
		"feature_names":["lag_7d","avg_new_cases_7d","lag_14d","growth_rate_7d","growth_rate_14d"],
		"trees":[[{"feature_idx":-1,"left_child":-1,"right_child":-1,"class_label":0,"probability":0,"is_leaf":true}]]}`
	if _, err := DecodeModel(strings.NewReader(payload)); err == nil {
		t.Fatal("expected error for reordered feature names")
	}
}

func TestDecodeModelRejectsCorruptInput(t *testing.T) {
	names := `"feature_names":["avg_new_cases_7d","lag_7d","lag_14d","growth_rate_7d","growth_rate_14d"]`
	cases := map[string]string{
		"garbage":     "\x80\x04not json",
		"truncated":   `{"version":1,"type":"random_forest",` + names + `,"trees":[[{"feature_idx":0`,
		"no trees":    `{"version":1,"type":"random_forest",` + names + `,"trees":[]}`,
		"bad version": `{"version":9,"type":"random_forest",` + names + `,"trees":[]}`,
		"bad child": `{"version":1,"type":"random_forest",` + names + `,"trees":[[
			{"feature_idx":0,"threshold":1,"left_child":0,"right_child":5,"is_leaf":false}]]}`,
		"bad type": `{"version":1,"type":"svm",` + names + `,"trees":[[
			{"feature_idx":-1,"left_child":-1,"right_child":-1,"probability":0.5,"is_leaf":true}]]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeModel(strings.NewReader(payload)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEncodeModelRequiresTrainedModel(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeModel(&buf, NewRandomForest(DefaultForestConfig())); err == nil {
		t.Fatal("expected error for untrained forest")
	}
}
