package model

import (
	"fmt"

	"xaiviz/internal/pickle"
)

// Forest is an ensemble of Trees; class probabilities are the mean of the
// member probabilities.
type Forest struct {
	Trees []*Tree

	Classes []string
	Width   int
	Names   []string
}

// Predict returns the class with the highest averaged probability.
func (f *Forest) Predict(features []float64) (string, error) {
	probs, err := f.PredictProba(features)
	if err != nil {
		return "", err
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	if best >= len(f.Classes) {
		return "", fmt.Errorf("model: class %d out of range", best)
	}
	return f.Classes[best], nil
}

// PredictProba averages the member trees' probabilities.
func (f *Forest) PredictProba(features []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("model: empty forest")
	}
	if f.Width > 0 && len(features) != f.Width {
		return nil, fmt.Errorf("model: expected %d features, got %d", f.Width, len(features))
	}
	var sum []float64
	for _, t := range f.Trees {
		probs, err := t.PredictProba(features)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float64, len(probs))
		}
		if len(probs) != len(sum) {
			return nil, fmt.Errorf("model: inconsistent class counts across trees")
		}
		for i, p := range probs {
			sum[i] += p
		}
	}
	for i := range sum {
		sum[i] /= float64(len(f.Trees))
	}
	return sum, nil
}

// FeatureNames implements FeatureNamer.
func (f *Forest) FeatureNames() []string { return f.Names }

// NumFeatures implements WidthReporter.
func (f *Forest) NumFeatures() int { return f.Width }

// ClassLabels reports the ensemble's class labels.
func (f *Forest) ClassLabels() []string { return f.Classes }

func newForest(pickle.Tuple) (any, error) { return &Forest{}, nil }

// SetPickleState absorbs the state of a pickled forest ensemble.
func (f *Forest) SetPickleState(state any) error {
	m, err := stateDict(state)
	if err != nil {
		return err
	}
	estimators, ok := m["estimators_"].([]any)
	if !ok {
		return fmt.Errorf("model: missing estimators_")
	}
	f.Trees = make([]*Tree, 0, len(estimators))
	for i, e := range estimators {
		t, ok := e.(*Tree)
		if !ok {
			return fmt.Errorf("model: estimator %d is %T, not a tree", i, e)
		}
		f.Trees = append(f.Trees, t)
	}
	if classes, ok := asLabels(m["classes_"]); ok {
		f.Classes = classes
	}
	if w, ok := asInt(m["n_features_in_"]); ok {
		f.Width = w
	}
	if names, ok := asLabels(m["feature_names_in_"]); ok && len(names) > 0 {
		f.Names = names
	} else if names, ok := asLabels(m["feature_names"]); ok && len(names) > 0 {
		f.Names = names
	}
	// Members inherit what the ensemble knows and they lack.
	for _, t := range f.Trees {
		if len(t.Classes) == 0 {
			t.Classes = f.Classes
		}
		if t.Width == 0 {
			t.Width = f.Width
		}
	}
	return nil
}
