package ml

import (
	"bytes"
	"testing"
)

func separableDataset() ([][]float64, []int) {
	features := make([][]float64, 0, 40)
	labels := make([]int, 0, 40)
	for i := 0; i < 40; i++ {
		x := float64(i)
		features = append(features, []float64{x, 2 * x, x + 1, x - 3, 100 - x})
		label := 0
		if i >= 20 {
			label = 1
		}
		labels = append(labels, label)
	}
	return features, labels
}

func TestRandomForestTrainPredict(t *testing.T) {
	features, labels := separableDataset()
	forest := NewRandomForest(DefaultForestConfig())
	if err := forest.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forest.Trees() != 50 {
		t.Fatalf("expected 50 trees, got %d", forest.Trees())
	}

	label, probability, err := forest.Predict([]float64{35, 70, 36, 32, 65})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 || probability <= 0.5 {
		t.Fatalf("expected outbreak class, got %d/%v", label, probability)
	}

	label, probability, _ = forest.Predict([]float64{5, 10, 6, 2, 95})
	if label != 0 || probability >= 0.5 {
		t.Fatalf("expected normal class, got %d/%v", label, probability)
	}
}

func TestRandomForestIsDeterministic(t *testing.T) {
	features, labels := separableDataset()

	encode := func() []byte {
		forest := NewRandomForest(DefaultForestConfig())
		if err := forest.Train(features, labels); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var buf bytes.Buffer
		if err := EncodeModel(&buf, forest); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return buf.Bytes()
	}

	if !bytes.Equal(encode(), encode()) {
		t.Fatal("expected identical models for the same seed")
	}
}

func TestRandomForestDefaults(t *testing.T) {
	forest := NewRandomForest(ForestConfig{})
	config := forest.Config()
	if config.Trees != 50 || config.MaxDepth != 5 {
		t.Fatalf("unexpected defaults: %+v", config)
	}
}

func TestRandomForestValidation(t *testing.T) {
	forest := NewRandomForest(ForestConfig{Trees: 3})
	if _, _, err := forest.Predict(make([]float64, 5)); err == nil {
		t.Fatal("expected error before training")
	}
	features, labels := separableDataset()
	if err := forest.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := forest.Predict([]float64{1, 2}); err == nil {
		t.Fatal("expected error for wrong feature count")
	}
}
