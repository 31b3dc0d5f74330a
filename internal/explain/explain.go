// Package explain computes per-feature attribution for single predictions.
// The factory picks the best available method for the active model: tree
// models get exact decision-path attributions, everything else a
// model-agnostic permutation baseline.
package explain

import (
	"fmt"
	"sort"

	"xaiviz/internal/adapter"
	"xaiviz/internal/model"
)

// Contribution is one feature's share of an explanation.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Explanation is the uniform attribution result.
type Explanation struct {
	Method        string         `json:"method"`
	Prediction    string         `json:"prediction"`
	Contributions []Contribution `json:"contributions"`
}

// Explainer generates an explanation for one instance.
type Explainer interface {
	Explain(instance []float64) (*Explanation, error)
	Name() string
}

// New selects an explainer for the adapted model. method forces a specific
// one ("decision_path" or "permutation"); empty means automatic. background
// rows feed the permutation baseline and may be nil.
func New(ad *adapter.Adapter, background [][]float64, method string) (Explainer, error) {
	switch method {
	case "":
		switch ad.Handle().(type) {
		case *model.Tree, *model.Forest:
			return newDecisionPath(ad)
		default:
			return newPermutation(ad, background), nil
		}
	case "decision_path", "tree":
		return newDecisionPath(ad)
	case "permutation":
		return newPermutation(ad, background), nil
	default:
		return nil, fmt.Errorf("unknown explainer %q (valid: decision_path, permutation)", method)
	}
}

// Available lists the explainer methods usable with the adapted model.
func Available(ad *adapter.Adapter) []string {
	methods := []string{"permutation"}
	switch ad.Handle().(type) {
	case *model.Tree, *model.Forest:
		methods = append(methods, "decision_path")
	}
	return methods
}

// sortByMagnitude orders contributions by absolute value, largest first,
// keeping the order stable for equal magnitudes.
func sortByMagnitude(cs []Contribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		return abs(cs[i].Value) > abs(cs[j].Value)
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func featureName(names []string, idx int) string {
	if idx >= 0 && idx < len(names) {
		return names[idx]
	}
	return fmt.Sprintf("Feature_%d", idx)
}
