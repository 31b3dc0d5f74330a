package explain

import (
	"fmt"

	"xaiviz/internal/adapter"
	"xaiviz/internal/model"
)

// decisionPath walks the splits a tree (or each tree of a forest) takes for
// the instance; each visited split credits its feature with the margin by
// which the instance cleared the threshold.
type decisionPath struct {
	ad    *adapter.Adapter
	trees []*model.Tree
}

func newDecisionPath(ad *adapter.Adapter) (Explainer, error) {
	var trees []*model.Tree
	switch h := ad.Handle().(type) {
	case *model.Tree:
		trees = []*model.Tree{h}
	case *model.Forest:
		trees = h.Trees
	default:
		return nil, fmt.Errorf("decision_path needs a tree model, have %s", ad.ModelType())
	}
	return &decisionPath{ad: ad, trees: trees}, nil
}

func (d *decisionPath) Name() string { return "decision_path" }

func (d *decisionPath) Explain(instance []float64) (*Explanation, error) {
	pred, err := d.ad.Predict(instance)
	if err != nil {
		return nil, err
	}
	names := d.ad.FeatureNames()
	sums := make(map[int]float64)
	for _, t := range d.trees {
		path, err := t.DecisionPath(instance)
		if err != nil {
			return nil, err
		}
		for _, step := range path {
			if step.Feature < 0 || step.Feature >= len(instance) {
				continue
			}
			margin := instance[step.Feature] - step.Threshold
			sums[step.Feature] += margin
		}
	}
	scale := float64(len(d.trees))
	contributions := make([]Contribution, 0, len(sums))
	for idx := 0; idx < len(instance); idx++ {
		sum, visited := sums[idx]
		if !visited {
			continue
		}
		contributions = append(contributions, Contribution{
			Feature: featureName(names, idx),
			Value:   sum / scale,
		})
	}
	sortByMagnitude(contributions)
	return &Explanation{
		Method:        d.Name(),
		Prediction:    pred.Label,
		Contributions: contributions,
	}, nil
}
