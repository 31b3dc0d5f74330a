package model

import (
	"fmt"
	"math"

	"xaiviz/internal/pickle"
)

// Linear is a decoded linear model: a coefficient matrix plus intercepts.
// With class labels it behaves as a logistic-style classifier, otherwise as
// a plain regressor.
type Linear struct {
	Coef      [][]float64
	Intercept []float64

	Classes []string
	Width   int
	Names   []string
}

func (l *Linear) validate(features []float64) error {
	if len(l.Coef) == 0 {
		return fmt.Errorf("model: linear model without coefficients")
	}
	if l.Width > 0 && len(features) != l.Width {
		return fmt.Errorf("model: expected %d features, got %d", l.Width, len(features))
	}
	return nil
}

func (l *Linear) scores(features []float64) []float64 {
	out := make([]float64, len(l.Coef))
	for i, row := range l.Coef {
		s := 0.0
		for j, c := range row {
			if j < len(features) {
				s += c * features[j]
			}
		}
		if i < len(l.Intercept) {
			s += l.Intercept[i]
		}
		out[i] = s
	}
	return out
}

// Predict returns the highest-probability class label, or the regression
// value when no classes are present.
func (l *Linear) Predict(features []float64) (string, error) {
	if err := l.validate(features); err != nil {
		return "", err
	}
	if len(l.Classes) == 0 {
		return classLabel(l.scores(features)[0]), nil
	}
	probs, err := l.PredictProba(features)
	if err != nil {
		return "", err
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	if best >= len(l.Classes) {
		return "", fmt.Errorf("model: class %d out of range", best)
	}
	return l.Classes[best], nil
}

// PredictProba applies the logistic link: sigmoid for the binary single-row
// case, softmax otherwise.
func (l *Linear) PredictProba(features []float64) ([]float64, error) {
	if len(l.Classes) == 0 {
		return nil, fmt.Errorf("model: linear model has no class labels")
	}
	if err := l.validate(features); err != nil {
		return nil, err
	}
	scores := l.scores(features)
	if len(scores) == 1 && len(l.Classes) == 2 {
		p := 1.0 / (1.0 + math.Exp(-scores[0]))
		return []float64{1 - p, p}, nil
	}
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	sum := 0.0
	probs := make([]float64, len(scores))
	for i, s := range scores {
		probs[i] = math.Exp(s - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// FeatureNames implements FeatureNamer.
func (l *Linear) FeatureNames() []string { return l.Names }

// NumFeatures implements WidthReporter.
func (l *Linear) NumFeatures() int { return l.Width }

// ClassLabels reports the class labels, empty for regression.
func (l *Linear) ClassLabels() []string { return l.Classes }

func newLinear(pickle.Tuple) (any, error) { return &Linear{}, nil }

// SetPickleState absorbs the estimator state of a pickled linear model.
func (l *Linear) SetPickleState(state any) error {
	m, err := stateDict(state)
	if err != nil {
		return err
	}
	var ok bool
	if l.Coef, ok = asMatrix(m["coef_"]); !ok || l.Coef == nil {
		return fmt.Errorf("model: missing coef_")
	}
	switch iv := m["intercept_"].(type) {
	case nil:
	default:
		if l.Intercept, ok = asFloats(iv); !ok {
			if f, okf := asFloat(iv); okf {
				l.Intercept = []float64{f}
			} else {
				return fmt.Errorf("model: bad intercept_ %T", iv)
			}
		}
	}
	if classes, ok := asLabels(m["classes_"]); ok {
		l.Classes = classes
	}
	if w, ok := asInt(m["n_features_in_"]); ok {
		l.Width = w
	} else if len(l.Coef) > 0 {
		l.Width = len(l.Coef[0])
	}
	if names, ok := asLabels(m["feature_names_in_"]); ok && len(names) > 0 {
		l.Names = names
	} else if names, ok := asLabels(m["feature_names"]); ok && len(names) > 0 {
		l.Names = names
	}
	return nil
}
