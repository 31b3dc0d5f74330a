// Package model defines the concrete model handles a successful artifact
// decode can produce, and the reconstruction bridge from pickled
// scikit-learn object graphs to those handles. The handle set is the fixed,
// versioned schema contract of the tool: anything outside it decodes (at
// best) to a generic object without prediction capability.
package model

import (
	"fmt"
	"strconv"

	"xaiviz/internal/pickle"
)

// Predictor is the minimal prediction capability of a handle.
type Predictor interface {
	Predict(features []float64) (string, error)
}

// Probabilistic is the optional per-class probability capability.
type Probabilistic interface {
	PredictProba(features []float64) ([]float64, error)
}

// FeatureNamer exposes feature names embedded in the artifact.
type FeatureNamer interface {
	FeatureNames() []string
}

// WidthReporter exposes the expected input width.
type WidthReporter interface {
	NumFeatures() int
}

// Normalize post-processes a decoded artifact value. Plain dict payloads
// carrying the versioned descriptor schema are reconstructed into a real
// handle; everything else passes through untouched.
func Normalize(v any) (any, error) {
	if m, ok := v.(map[any]any); ok {
		if _, has := m["model_type"]; has {
			return fromDescriptorMap(m)
		}
	}
	return v, nil
}

// classLabel renders a pickled class label for display.
func classLabel(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// asFloats coerces decoded sequences (arrays, lists, tuples) to []float64.
func asFloats(v any) ([]float64, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case []float64:
		return x, true
	case *NDArray:
		if x.Floats != nil {
			return x.Floats, true
		}
		return nil, false
	case []any:
		return sliceToFloats(x)
	case pickle.Tuple:
		return sliceToFloats(x)
	default:
		return nil, false
	}
}

func sliceToFloats(items []any) ([]float64, bool) {
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := asFloat(item)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}

func asInts(v any) ([]int, bool) {
	floats, ok := asFloats(v)
	if !ok {
		return nil, false
	}
	out := make([]int, len(floats))
	for i, f := range floats {
		if f != float64(int64(f)) {
			return nil, false
		}
		out[i] = int(f)
	}
	return out, true
}

// asLabels coerces a decoded sequence to display labels.
func asLabels(v any) ([]string, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case []string:
		return x, true
	case *NDArray:
		if x.Strings != nil {
			return x.Strings, true
		}
		if x.Floats != nil {
			out := make([]string, len(x.Floats))
			for i, f := range x.Floats {
				out[i] = classLabel(f)
			}
			return out, true
		}
		return nil, false
	case []any:
		return itemsToLabels(x)
	case pickle.Tuple:
		return itemsToLabels(x)
	default:
		return nil, false
	}
}

func itemsToLabels(items []any) ([]string, bool) {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = classLabel(item)
	}
	return out, true
}

// asMatrix coerces a decoded value to a row-major 2-D matrix.
func asMatrix(v any) ([][]float64, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case [][]float64:
		return x, true
	case *NDArray:
		return x.Matrix()
	case []any:
		out := make([][]float64, len(x))
		for i, row := range x {
			r, ok := asFloats(row)
			if !ok || r == nil {
				return nil, false
			}
			out[i] = r
		}
		return out, true
	default:
		return nil, false
	}
}

func stateDict(state any) (map[any]any, error) {
	m, ok := state.(map[any]any)
	if !ok {
		return nil, fmt.Errorf("model: expected dict state, got %T", state)
	}
	return m, nil
}
