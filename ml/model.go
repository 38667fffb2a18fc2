package ml

// Classifier returns the predicted class and the probability of class 1
// (an outbreak) for one feature vector.
type Classifier interface {
	Predict(features []float64) (int, float64, error)
}

type MLModel interface {
	Classifier
	Train(features [][]float64, labels []int) error
}

var (
	_ MLModel = (*DecisionTree)(nil)
	_ MLModel = (*RandomForest)(nil)
)
