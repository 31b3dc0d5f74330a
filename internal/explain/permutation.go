package explain

import (
	"xaiviz/internal/adapter"
)

// permutation is the model-agnostic fallback: each feature is replaced with
// its background baseline and the shift in the predicted class probability
// (or the rate of label flips, without probabilities) is its contribution.
type permutation struct {
	ad       *adapter.Adapter
	baseline []float64
}

func newPermutation(ad *adapter.Adapter, background [][]float64) Explainer {
	width := len(ad.FeatureNames())
	baseline := make([]float64, width)
	if len(background) > 0 {
		for _, row := range background {
			for j := 0; j < width && j < len(row); j++ {
				baseline[j] += row[j]
			}
		}
		for j := range baseline {
			baseline[j] /= float64(len(background))
		}
	}
	return &permutation{ad: ad, baseline: baseline}
}

func (p *permutation) Name() string { return "permutation" }

func (p *permutation) Explain(instance []float64) (*Explanation, error) {
	pred, err := p.ad.Predict(instance)
	if err != nil {
		return nil, err
	}
	names := p.ad.FeatureNames()
	ref := p.score(pred)

	contributions := make([]Contribution, 0, len(instance))
	perturbed := make([]float64, len(instance))
	copy(perturbed, instance)
	for j := range instance {
		if j < len(p.baseline) {
			perturbed[j] = p.baseline[j]
		} else {
			perturbed[j] = 0
		}
		alt, err := p.ad.Predict(perturbed)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, Contribution{
			Feature: featureName(names, j),
			Value:   ref - p.scoreAgainst(alt, pred),
		})
		perturbed[j] = instance[j]
	}
	sortByMagnitude(contributions)
	return &Explanation{
		Method:        p.Name(),
		Prediction:    pred.Label,
		Contributions: contributions,
	}, nil
}

// score is the probability of the predicted class, or 1 when the model
// yields labels only.
func (p *permutation) score(pred adapter.Prediction) float64 {
	if idx := maxIndex(pred.Probabilities); idx >= 0 {
		return pred.Probabilities[idx]
	}
	return 1
}

// scoreAgainst measures how much of the reference prediction survives the
// perturbation: the probability the perturbed model assigns to the original
// class, or a 0/1 label match without probabilities.
func (p *permutation) scoreAgainst(alt, ref adapter.Prediction) float64 {
	if refIdx := maxIndex(ref.Probabilities); refIdx >= 0 && refIdx < len(alt.Probabilities) {
		return alt.Probabilities[refIdx]
	}
	if alt.Label == ref.Label {
		return 1
	}
	return 0
}

func maxIndex(probs []float64) int {
	if len(probs) == 0 {
		return -1
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}
