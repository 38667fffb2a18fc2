package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// DecisionTree is a binary CART classifier using Gini impurity. Nodes are
// stored flat; a node's children always sit after it in the slice.
type DecisionTree struct {
	nodes           []TreeNode
	maxDepth        int
	maxFeatures     int
	minSamplesSplit int
	rng             *rand.Rand
}

type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	ClassLabel  int     `json:"class_label"`
	Probability float64 `json:"probability"`
	IsLeaf      bool    `json:"is_leaf"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &DecisionTree{maxDepth: maxDepth, minSamplesSplit: 2}
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if err := validateTrainingData(features, labels); err != nil {
		return err
	}
	sample := make([]int, len(labels))
	for i := range sample {
		sample[i] = i
	}
	dt.fit(features, labels, sample)
	return nil
}

// Predict returns the predicted class and the probability of class 1.
func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	if len(dt.nodes) == 0 {
		return 0, 0, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.ClassLabel, node.Probability, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.nodes) {
			return 0, 0, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) Nodes() []TreeNode {
	return append([]TreeNode(nil), dt.nodes...)
}

// Depth returns the number of split levels on the longest path.
func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		left, right := walk(node.LeftChild), walk(node.RightChild)
		if left > right {
			return left + 1
		}
		return right + 1
	}
	return walk(0)
}

func treeFromNodes(nodes []TreeNode, featureCount int) (*DecisionTree, error) {
	if len(nodes) == 0 {
		return nil, errors.New("tree has no nodes")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if node.Probability < 0 || node.Probability > 1 || math.IsNaN(node.Probability) {
				return nil, fmt.Errorf("node %d: probability %v out of range", i, node.Probability)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= featureCount {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(nodes) || node.RightChild <= i || node.RightChild >= len(nodes) {
			return nil, fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return &DecisionTree{nodes: nodes}, nil
}

// fit grows the tree on the rows listed in sample. Rows may repeat, which is
// how bootstrap samples weight them.
func (dt *DecisionTree) fit(features [][]float64, labels []int, sample []int) {
	if dt.maxDepth <= 0 {
		dt.maxDepth = 3
	}
	if dt.minSamplesSplit < 2 {
		dt.minSamplesSplit = 2
	}
	dt.nodes = dt.buildNode(features, labels, sample, 0)
}

func (dt *DecisionTree) buildNode(features [][]float64, labels []int, sample []int, depth int) []TreeNode {
	positives := countPositive(labels, sample)
	leaf := leafNode(positives, len(sample))
	if depth >= dt.maxDepth || positives == 0 || positives == len(sample) || len(sample) < dt.minSamplesSplit {
		return []TreeNode{leaf}
	}

	featureIdx, threshold, ok := dt.findBestSplit(features, labels, sample, positives)
	if !ok {
		return []TreeNode{leaf}
	}

	left, right := splitSample(features, sample, featureIdx, threshold)
	if len(left) == 0 || len(right) == 0 {
		return []TreeNode{leaf}
	}

	leftNodes := dt.buildNode(features, labels, left, depth+1)
	rightNodes := dt.buildNode(features, labels, right, depth+1)

	root := leaf
	root.IsLeaf = false
	root.FeatureIdx = featureIdx
	root.Threshold = threshold
	root.LeftChild = 1
	root.RightChild = 1 + len(leftNodes)

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = appendShifted(nodes, leftNodes, root.LeftChild)
	nodes = appendShifted(nodes, rightNodes, root.RightChild)
	return nodes
}

func (dt *DecisionTree) findBestSplit(features [][]float64, labels []int, sample []int, positives int) (int, float64, bool) {
	n := len(sample)
	bestImpurity := gini(positives, n)
	bestFeature := -1
	bestThreshold := 0.0

	sorted := make([]int, n)
	for _, featureIdx := range dt.candidateFeatures(len(features[sample[0]])) {
		copy(sorted, sample)
		sort.SliceStable(sorted, func(a, b int) bool {
			return features[sorted[a]][featureIdx] < features[sorted[b]][featureIdx]
		})

		leftPositives := 0
		for i := 0; i < n-1; i++ {
			if labels[sorted[i]] == 1 {
				leftPositives++
			}
			lo := features[sorted[i]][featureIdx]
			hi := features[sorted[i+1]][featureIdx]
			if lo == hi {
				continue
			}
			leftCount := i + 1
			rightCount := n - leftCount
			impurity := (float64(leftCount)*gini(leftPositives, leftCount) +
				float64(rightCount)*gini(positives-leftPositives, rightCount)) / float64(n)
			if impurity < bestImpurity-1e-12 {
				bestImpurity = impurity
				bestFeature = featureIdx
				bestThreshold = midpoint(lo, hi)
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (dt *DecisionTree) candidateFeatures(featureCount int) []int {
	if dt.rng == nil || dt.maxFeatures <= 0 || dt.maxFeatures >= featureCount {
		all := make([]int, featureCount)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return dt.rng.Perm(featureCount)[:dt.maxFeatures]
}

func splitSample(features [][]float64, sample []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(sample))
	right := make([]int, 0, len(sample))
	for _, row := range sample {
		if features[row][featureIdx] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}

func appendShifted(dst, nodes []TreeNode, offset int) []TreeNode {
	for _, node := range nodes {
		if !node.IsLeaf {
			node.LeftChild += offset
			node.RightChild += offset
		}
		dst = append(dst, node)
	}
	return dst
}

func leafNode(positives, total int) TreeNode {
	probability := 0.0
	if total > 0 {
		probability = float64(positives) / float64(total)
	}
	label := 0
	if probability > 0.5 {
		label = 1
	}
	return TreeNode{
		FeatureIdx:  -1,
		LeftChild:   -1,
		RightChild:  -1,
		ClassLabel:  label,
		Probability: probability,
		IsLeaf:      true,
	}
}

func gini(positives, total int) float64 {
	if total == 0 {
		return 0
	}
	p := float64(positives) / float64(total)
	return 1 - p*p - (1-p)*(1-p)
}

func midpoint(lo, hi float64) float64 {
	mid := lo + (hi-lo)/2
	if mid >= hi {
		return lo
	}
	return mid
}

func countPositive(labels []int, sample []int) int {
	count := 0
	for _, row := range sample {
		if labels[row] == 1 {
			count++
		}
	}
	return count
}

func validateTrainingData(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d contains a non-finite value", i)
			}
		}
		if labels[i] != 0 && labels[i] != 1 {
			return fmt.Errorf("row %d has label %d, want 0 or 1", i, labels[i])
		}
	}
	return nil
}
