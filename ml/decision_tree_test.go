package ml

import "testing"

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}

	model := NewDecisionTree(2)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, probability, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 || probability != 0 {
		t.Fatalf("expected label 0 with probability 0, got %d/%v", label, probability)
	}
	label, probability, _ = model.Predict([]float64{0.85, 0.85})
	if label != 1 || probability != 1 {
		t.Fatalf("expected label 1 with probability 1, got %d/%v", label, probability)
	}
	if model.Depth() != 1 {
		t.Fatalf("expected a single split, got depth %d", model.Depth())
	}
}

func TestDecisionTreeRespectsMaxDepth(t *testing.T) {
	features := make([][]float64, 0, 16)
	labels := make([]int, 0, 16)
	for i := 0; i < 16; i++ {
		features = append(features, []float64{float64(i)})
		labels = append(labels, i%2)
	}
	model := NewDecisionTree(2)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.Depth() > 2 {
		t.Fatalf("expected depth <= 2, got %d", model.Depth())
	}
	_, probability, err := model.Predict([]float64{7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probability < 0 || probability > 1 {
		t.Fatalf("probability out of range: %v", probability)
	}
}

func TestDecisionTreeChildIndicesAreAbsolute(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	labels := []int{0, 1, 0, 1, 1, 0}
	model := NewDecisionTree(5)
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := treeFromNodes(model.Nodes(), 1); err != nil {
		t.Fatalf("trained tree failed validation: %v", err)
	}
	for i, row := range features {
		label, _, err := model.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != labels[i] {
			t.Fatalf("row %d: expected %d, got %d", i, labels[i], label)
		}
	}
}

func TestDecisionTreeValidation(t *testing.T) {
	model := NewDecisionTree(3)
	if _, _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error before training")
	}
	if err := model.Train(nil, nil); err == nil {
		t.Fatal("expected error for empty data")
	}
	if err := model.Train([][]float64{{1}, {2}}, []int{0}); err == nil {
		t.Fatal("expected error for size mismatch")
	}
	if err := model.Train([][]float64{{1}, {2}}, []int{0, 2}); err == nil {
		t.Fatal("expected error for non-binary label")
	}
}
