package model

import (
	"fmt"
)

// DescriptorVersion is the current schema version of plain-data artifacts.
const DescriptorVersion = 1

// Descriptor is the versioned plain-data artifact schema. It is what the
// JSON and gob artifact encodings carry, and what dict-shaped pickled
// payloads are normalized through.
type Descriptor struct {
	SchemaVersion int    `json:"schema_version"`
	ModelType     string `json:"model_type"` // "decision_tree", "linear" or "forest"

	FeatureNames []string `json:"feature_names,omitempty"`
	Classes      []string `json:"classes,omitempty"`
	NFeatures    int      `json:"n_features,omitempty"`

	// Linear payload.
	Coef      [][]float64 `json:"coef,omitempty"`
	Intercept []float64   `json:"intercept,omitempty"`

	// Tree payload.
	ChildrenLeft  []int       `json:"children_left,omitempty"`
	ChildrenRight []int       `json:"children_right,omitempty"`
	Feature       []int       `json:"feature,omitempty"`
	Threshold     []float64   `json:"threshold,omitempty"`
	Value         [][]float64 `json:"value,omitempty"`

	// Forest payload.
	Trees []Descriptor `json:"trees,omitempty"`
}

// FromDescriptor reconstructs a handle from a descriptor.
func FromDescriptor(d *Descriptor) (any, error) {
	if d.SchemaVersion > DescriptorVersion {
		return nil, fmt.Errorf("model: descriptor schema version %d is newer than %d", d.SchemaVersion, DescriptorVersion)
	}
	switch d.ModelType {
	case "decision_tree":
		t := &Tree{
			Left:      d.ChildrenLeft,
			Right:     d.ChildrenRight,
			Feature:   d.Feature,
			Threshold: d.Threshold,
			Value:     d.Value,
			Classes:   d.Classes,
			Width:     d.NFeatures,
			Names:     d.FeatureNames,
		}
		if len(t.Left) == 0 {
			return nil, fmt.Errorf("model: decision_tree descriptor without nodes")
		}
		if err := t.checkStructure(); err != nil {
			return nil, err
		}
		return t, nil
	case "linear":
		l := &Linear{
			Coef:      d.Coef,
			Intercept: d.Intercept,
			Classes:   d.Classes,
			Width:     d.NFeatures,
			Names:     d.FeatureNames,
		}
		if len(l.Coef) == 0 {
			return nil, fmt.Errorf("model: linear descriptor without coefficients")
		}
		if l.Width == 0 {
			l.Width = len(l.Coef[0])
		}
		return l, nil
	case "forest":
		f := &Forest{
			Classes: d.Classes,
			Width:   d.NFeatures,
			Names:   d.FeatureNames,
		}
		for i := range d.Trees {
			h, err := FromDescriptor(&d.Trees[i])
			if err != nil {
				return nil, fmt.Errorf("model: forest member %d: %w", i, err)
			}
			t, ok := h.(*Tree)
			if !ok {
				return nil, fmt.Errorf("model: forest member %d is not a tree", i)
			}
			if len(t.Classes) == 0 {
				t.Classes = f.Classes
			}
			if t.Width == 0 {
				t.Width = f.Width
			}
			f.Trees = append(f.Trees, t)
		}
		if len(f.Trees) == 0 {
			return nil, fmt.Errorf("model: forest descriptor without trees")
		}
		return f, nil
	case "":
		return nil, fmt.Errorf("model: descriptor without model_type")
	default:
		return nil, fmt.Errorf("model: unknown model_type %q", d.ModelType)
	}
}

// fromDescriptorMap adapts a decoded dict payload to the descriptor schema.
func fromDescriptorMap(m map[any]any) (any, error) {
	d, err := descriptorFromMap(m)
	if err != nil {
		return nil, err
	}
	return FromDescriptor(d)
}

func descriptorFromMap(m map[any]any) (*Descriptor, error) {
	d := &Descriptor{}
	if v, ok := asInt(m["schema_version"]); ok {
		d.SchemaVersion = v
	}
	if s, ok := m["model_type"].(string); ok {
		d.ModelType = s
	}
	if names, ok := asLabels(m["feature_names"]); ok {
		d.FeatureNames = names
	}
	if classes, ok := asLabels(m["classes"]); ok {
		d.Classes = classes
	}
	if n, ok := asInt(m["n_features"]); ok {
		d.NFeatures = n
	}
	d.Coef, _ = asMatrix(m["coef"])
	d.Intercept, _ = asFloats(m["intercept"])
	d.ChildrenLeft, _ = asInts(m["children_left"])
	d.ChildrenRight, _ = asInts(m["children_right"])
	d.Feature, _ = asInts(m["feature"])
	d.Threshold, _ = asFloats(m["threshold"])
	d.Value, _ = asMatrix(m["value"])
	if trees, ok := m["trees"].([]any); ok {
		for i, tv := range trees {
			tm, ok := tv.(map[any]any)
			if !ok {
				return nil, fmt.Errorf("model: forest member %d is %T", i, tv)
			}
			td, err := descriptorFromMap(tm)
			if err != nil {
				return nil, err
			}
			if td.ModelType == "" {
				td.ModelType = "decision_tree"
			}
			d.Trees = append(d.Trees, *td)
		}
	}
	return d, nil
}
