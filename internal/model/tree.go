package model

import (
	"fmt"

	"xaiviz/internal/pickle"
)

// Tree is a decoded decision tree. Nodes are stored as parallel arrays in
// the usual left/right-child layout; leaves have child -1. Value holds the
// per-class sample counts for classifiers, or the single fitted value for
// regressors.
type Tree struct {
	Left      []int
	Right     []int
	Feature   []int
	Threshold []float64
	Value     [][]float64

	Classes []string
	Width   int
	Names   []string
}

const leaf = -1

// PathStep is one internal split visited on the way to a leaf.
type PathStep struct {
	Node      int
	Feature   int
	Threshold float64
	WentLeft  bool
}

func (t *Tree) validate(features []float64) error {
	if len(t.Left) == 0 {
		return fmt.Errorf("model: empty tree")
	}
	if t.Width > 0 && len(features) != t.Width {
		return fmt.Errorf("model: expected %d features, got %d", t.Width, len(features))
	}
	return nil
}

// checkStructure rejects node tables whose arrays disagree or whose child
// pointers leave the table. Run once at construction; traversal relies on it.
func (t *Tree) checkStructure() error {
	n := len(t.Left)
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n {
		return fmt.Errorf("model: tree node arrays disagree on length (%d/%d/%d/%d)",
			n, len(t.Right), len(t.Feature), len(t.Threshold))
	}
	if len(t.Value) < n {
		return fmt.Errorf("model: value table has %d rows for %d nodes", len(t.Value), n)
	}
	for i := 0; i < n; i++ {
		for _, c := range [2]int{t.Left[i], t.Right[i]} {
			if c != leaf && (c < 0 || c >= n) {
				return fmt.Errorf("model: node %d child %d out of range [0,%d)", i, c, n)
			}
		}
	}
	return nil
}

func (t *Tree) leafFor(features []float64) int {
	node := 0
	for t.Left[node] != leaf {
		f := t.Feature[node]
		if f >= 0 && f < len(features) && features[f] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return node
}

// Predict returns the majority-class label (or fitted value) of the leaf
// the instance lands in.
func (t *Tree) Predict(features []float64) (string, error) {
	if err := t.validate(features); err != nil {
		return "", err
	}
	counts := t.Value[t.leafFor(features)]
	if len(t.Classes) == 0 {
		if len(counts) == 0 {
			return "", fmt.Errorf("model: leaf without value")
		}
		return classLabel(counts[0]), nil
	}
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	if best >= len(t.Classes) {
		return "", fmt.Errorf("model: leaf class %d out of range", best)
	}
	return t.Classes[best], nil
}

// PredictProba normalizes the leaf's class counts into probabilities.
func (t *Tree) PredictProba(features []float64) ([]float64, error) {
	if len(t.Classes) == 0 {
		return nil, fmt.Errorf("model: tree has no class labels")
	}
	if err := t.validate(features); err != nil {
		return nil, err
	}
	counts := t.Value[t.leafFor(features)]
	total := 0.0
	for _, c := range counts {
		total += c
	}
	probs := make([]float64, len(counts))
	if total > 0 {
		for i, c := range counts {
			probs[i] = c / total
		}
	}
	return probs, nil
}

// DecisionPath returns the internal splits visited for the instance.
func (t *Tree) DecisionPath(features []float64) ([]PathStep, error) {
	if err := t.validate(features); err != nil {
		return nil, err
	}
	var path []PathStep
	node := 0
	for t.Left[node] != leaf {
		f := t.Feature[node]
		left := f >= 0 && f < len(features) && features[f] <= t.Threshold[node]
		path = append(path, PathStep{Node: node, Feature: f, Threshold: t.Threshold[node], WentLeft: left})
		if left {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return path, nil
}

// FeatureNames implements FeatureNamer.
func (t *Tree) FeatureNames() []string { return t.Names }

// NumFeatures implements WidthReporter.
func (t *Tree) NumFeatures() int { return t.Width }

// ClassLabels reports the class labels, empty for regression trees.
func (t *Tree) ClassLabels() []string { return t.Classes }

func newTreeClassifier(pickle.Tuple) (any, error) { return &Tree{}, nil }

// SetPickleState absorbs the estimator state of a pickled decision tree:
// width, embedded feature names, class labels and the fitted node arrays.
func (t *Tree) SetPickleState(state any) error {
	m, err := stateDict(state)
	if err != nil {
		return err
	}
	if w, ok := asInt(m["n_features_in_"]); ok {
		t.Width = w
	} else if w, ok := asInt(m["n_features_"]); ok {
		t.Width = w
	}
	if names, ok := asLabels(m["feature_names_in_"]); ok && len(names) > 0 {
		t.Names = names
	} else if names, ok := asLabels(m["feature_names"]); ok && len(names) > 0 {
		// Pre-1.0 estimators used the unsuffixed attribute.
		t.Names = names
	}
	if classes, ok := asLabels(m["classes_"]); ok {
		t.Classes = classes
	}
	switch inner := m["tree_"].(type) {
	case *fittedTree:
		return inner.fillInto(t)
	case nil:
		// Descriptor-shaped states carry the arrays directly.
		return t.setArrays(m)
	default:
		return fmt.Errorf("model: unsupported tree state %T", inner)
	}
}

func (t *Tree) setArrays(m map[any]any) error {
	var ok bool
	if t.Left, ok = asInts(m["children_left"]); !ok {
		return fmt.Errorf("model: missing children_left")
	}
	if t.Right, ok = asInts(m["children_right"]); !ok {
		return fmt.Errorf("model: missing children_right")
	}
	if t.Feature, ok = asInts(m["feature"]); !ok {
		return fmt.Errorf("model: missing feature")
	}
	if t.Threshold, ok = asFloats(m["threshold"]); !ok {
		return fmt.Errorf("model: missing threshold")
	}
	if t.Value, ok = asMatrix(m["value"]); !ok {
		return fmt.Errorf("model: missing value")
	}
	return t.checkStructure()
}

// fittedTree is the low-level fitted-arrays object nested inside a pickled
// tree estimator. Its node table is a structured record array in one of two
// known layouts (56-byte classic, 64-byte with a missing-value flag).
type fittedTree struct {
	nFeatures int
	nClasses  int

	left      []int
	right     []int
	feature   []int
	threshold []float64
	values    [][]float64
}

func newFittedTree(args pickle.Tuple) (any, error) {
	ft := &fittedTree{}
	if len(args) >= 2 {
		if n, ok := asInt(args[0]); ok {
			ft.nFeatures = n
		}
		if classes, ok := asFloats(args[1]); ok && len(classes) > 0 {
			ft.nClasses = int(classes[0])
		}
	}
	return ft, nil
}

// Record field offsets of the classic node layout.
var classicNodeFields = map[string]DtypeField{
	"left_child":  {Dtype: &Dtype{Kind: 'i', ItemSize: 8}, Offset: 0},
	"right_child": {Dtype: &Dtype{Kind: 'i', ItemSize: 8}, Offset: 8},
	"feature":     {Dtype: &Dtype{Kind: 'i', ItemSize: 8}, Offset: 16},
	"threshold":   {Dtype: &Dtype{Kind: 'f', ItemSize: 8}, Offset: 24},
}

func (ft *fittedTree) SetPickleState(state any) error {
	m, err := stateDict(state)
	if err != nil {
		return err
	}
	nodes, ok := m["nodes"].(*NDArray)
	if !ok {
		return fmt.Errorf("model: missing node table")
	}
	if nodes.Raw == nil || nodes.Dtype == nil {
		return fmt.Errorf("model: node table is not a record array")
	}
	fields := nodes.Dtype.Fields
	if fields == nil {
		// No field table survived; the two known layouts share their
		// leading offsets, so fall back on those.
		if nodes.Dtype.ItemSize != 56 && nodes.Dtype.ItemSize != 64 {
			return fmt.Errorf("model: unknown node record size %d", nodes.Dtype.ItemSize)
		}
		fields = classicNodeFields
	}
	for _, name := range []string{"left_child", "right_child", "feature", "threshold"} {
		if fields[name].Dtype == nil {
			return fmt.Errorf("model: node table lacks field %q", name)
		}
	}
	count := nodes.Len()
	ft.left = make([]int, count)
	ft.right = make([]int, count)
	ft.feature = make([]int, count)
	ft.threshold = make([]float64, count)
	for i := 0; i < count; i++ {
		var errs [4]error
		var l, r, f, th float64
		l, errs[0] = nodes.fieldFloat(i, fields["left_child"])
		r, errs[1] = nodes.fieldFloat(i, fields["right_child"])
		f, errs[2] = nodes.fieldFloat(i, fields["feature"])
		th, errs[3] = nodes.fieldFloat(i, fields["threshold"])
		for _, e := range errs {
			if e != nil {
				return fmt.Errorf("model: node %d: %w", i, e)
			}
		}
		ft.left[i], ft.right[i], ft.feature[i], ft.threshold[i] = int(l), int(r), int(f), th
	}

	values, ok := m["values"].(*NDArray)
	if !ok || values.Floats == nil {
		return fmt.Errorf("model: missing value table")
	}
	// Shape is (node_count, n_outputs, n_classes); only output 0 is used.
	perNode := 1
	if len(values.Shape) == 3 {
		perNode = values.Shape[1] * values.Shape[2]
	} else if len(values.Shape) == 2 {
		perNode = values.Shape[1]
	}
	width := perNode
	if len(values.Shape) == 3 {
		width = values.Shape[2]
	}
	ft.values = make([][]float64, count)
	for i := 0; i < count; i++ {
		base := i * perNode
		if base+width > len(values.Floats) {
			return fmt.Errorf("model: value table too short")
		}
		ft.values[i] = values.Floats[base : base+width]
	}
	return nil
}

func (ft *fittedTree) fillInto(t *Tree) error {
	if ft.left == nil {
		return fmt.Errorf("model: tree arrays were never built")
	}
	t.Left = ft.left
	t.Right = ft.right
	t.Feature = ft.feature
	t.Threshold = ft.threshold
	t.Value = ft.values
	if t.Width == 0 {
		t.Width = ft.nFeatures
	}
	return t.checkStructure()
}
