// Package adapter normalizes an opaque loaded model handle into a uniform
// prediction and metadata capability. The rest of the system only ever sees
// this one shape, regardless of which decoding strategy produced the handle.
package adapter

import (
	"errors"
	"fmt"
	"reflect"

	"xaiviz/internal/model"
	"xaiviz/internal/pickle"
)

// ErrNoPredictCapability means the handle exposes no usable prediction
// method. This is a hard failure at construction time, never masked.
var ErrNoPredictCapability = errors.New("model exposes no prediction capability")

// defaultWidth is the placeholder schema size when the handle reveals
// neither names nor an input width.
const defaultWidth = 10

// Capabilities is computed once at construction and cached; no capability
// is re-probed per call.
type Capabilities struct {
	SupportsProbability bool
	ModelType           string
	Width               int
}

// Prediction is the uniform prediction result: a display label plus the
// per-class probabilities when the handle supports them.
type Prediction struct {
	Label         string
	Probabilities []float64
}

// Adapter binds the uniform capability to one handle.
type Adapter struct {
	handle    any
	names     []string
	caps      Capabilities
	predictor model.Predictor
	proba     model.Probabilistic
}

// New wraps a handle. Explicit feature names, when given, take precedence
// over anything embedded in the handle.
func New(handle any, explicitNames []string) (*Adapter, error) {
	predictor, ok := handle.(model.Predictor)
	if !ok {
		return nil, fmt.Errorf("%w (handle type %s)", ErrNoPredictCapability, typeName(handle))
	}
	a := &Adapter{
		handle:    handle,
		predictor: predictor,
	}
	a.caps.ModelType = typeName(handle)
	if p, ok := handle.(model.Probabilistic); ok && len(classLabels(handle)) > 0 {
		a.proba = p
		a.caps.SupportsProbability = true
	}
	a.names = resolveNames(handle, explicitNames)
	a.caps.Width = len(a.names)
	return a, nil
}

// FeatureNames returns the resolved schema: ordered, unique names whose
// length is the expected input width.
func (a *Adapter) FeatureNames() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Predict coerces a flat vector into the batch the handle expects and
// returns the single resulting row.
func (a *Adapter) Predict(features []float64) (Prediction, error) {
	label, err := a.predictor.Predict(features)
	if err != nil {
		return Prediction{}, err
	}
	pred := Prediction{Label: label}
	if a.proba != nil {
		probs, err := a.proba.PredictProba(features)
		if err != nil {
			return Prediction{}, err
		}
		pred.Probabilities = probs
	}
	return pred, nil
}

// ModelType returns the handle's runtime type name, for display and logging
// only.
func (a *Adapter) ModelType() string { return a.caps.ModelType }

// Capabilities returns the cached capability descriptor.
func (a *Adapter) Capabilities() Capabilities { return a.caps }

// Handle exposes the wrapped handle for collaborators that inspect model
// structure (the decision-path explainer).
func (a *Adapter) Handle() any { return a.handle }

// resolveNames applies the schema precedence: explicit names, embedded
// names (the handles surface both the current and the legacy pickled
// attribute through FeatureNamer), placeholder names for a discoverable
// width, and finally a fixed default width.
func resolveNames(handle any, explicit []string) []string {
	if len(explicit) > 0 {
		return dedupe(explicit)
	}
	if fn, ok := handle.(model.FeatureNamer); ok {
		if names := fn.FeatureNames(); len(names) > 0 {
			return dedupe(names)
		}
	}
	if wr, ok := handle.(model.WidthReporter); ok {
		if n := wr.NumFeatures(); n > 0 {
			return placeholders(n)
		}
	}
	return placeholders(defaultWidth)
}

func placeholders(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("Feature_%d", i)
	}
	return names
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func classLabels(handle any) []string {
	type classer interface{ ClassLabels() []string }
	if c, ok := handle.(classer); ok {
		return c.ClassLabels()
	}
	return nil
}

func typeName(handle any) string {
	if obj, ok := handle.(*pickle.Object); ok {
		return obj.Name
	}
	t := reflect.TypeOf(handle)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
