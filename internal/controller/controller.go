// Package controller owns the single active (model, adapter, schema) tuple.
// It is the only mutation point for model state: a load either replaces the
// whole tuple or leaves the previous one completely untouched.
//
// The controller assumes exclusive, non-reentrant access. Hosts embedding
// it in a concurrent environment must serialize LoadModel and Predict
// externally.
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"xaiviz/internal/adapter"
	"xaiviz/internal/event"
	"xaiviz/internal/loader"
	"xaiviz/internal/metrics"
	"xaiviz/internal/model"
	"xaiviz/internal/store"
)

// ErrNotLoaded means Predict was called before any successful load.
var ErrNotLoaded = errors.New("no model loaded")

// ActiveModel is the controller's state tuple; it is replaced as one unit,
// never partially updated.
type ActiveModel struct {
	Handle   any
	Adapter  *adapter.Adapter
	Schema   []string
	Path     string
	Strategy string
	LoadedAt time.Time
}

// Controller loads artifacts through the strategy chain, adapts the result,
// and serves predictions from the active model.
type Controller struct {
	loader  *loader.Context
	bus     *event.Bus
	metrics *metrics.Wrapper
	history *store.Store

	active *ActiveModel
}

// Option configures optional collaborators.
type Option func(*Controller)

// WithBus publishes lifecycle events to b.
func WithBus(b *event.Bus) Option { return func(c *Controller) { c.bus = b } }

// WithMetrics reports prediction activity to w.
func WithMetrics(w *metrics.Wrapper) Option { return func(c *Controller) { c.metrics = w } }

// WithHistory records successful loads in s.
func WithHistory(s *store.Store) Option { return func(c *Controller) { c.history = s } }

// New builds a controller around a loader context.
func New(ld *loader.Context, opts ...Option) *Controller {
	c := &Controller{loader: ld}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadModel acquires the artifact at path and, on success, atomically
// replaces the active model. It returns the resolved feature schema. Any
// failure leaves previously active state untouched.
func (c *Controller) LoadModel(path string) ([]string, error) {
	handle, strategy, err := c.dispatch(path)
	if err != nil {
		return nil, err
	}
	ad, err := adapter.New(handle, nil)
	if err != nil {
		return nil, fmt.Errorf("adapt model from %s: %w", path, err)
	}
	next := &ActiveModel{
		Handle:   handle,
		Adapter:  ad,
		Schema:   ad.FeatureNames(),
		Path:     path,
		Strategy: strategy,
		LoadedAt: time.Now(),
	}
	c.active = next

	log.Info().
		Str("path", path).
		Str("strategy", strategy).
		Str("model_type", ad.ModelType()).
		Int("features", len(next.Schema)).
		Msg("active model replaced")
	c.metrics.ModelAgeSet(0)
	if c.history != nil {
		rec := store.Record{
			Path:      path,
			Strategy:  strategy,
			ModelType: ad.ModelType(),
			Schema:    next.Schema,
			LoadedAt:  next.LoadedAt,
		}
		if err := c.history.Append(rec); err != nil {
			log.Warn().Err(err).Msg("failed to record load history")
		}
	}
	if c.bus != nil {
		c.bus.Publish(event.ModelEvent{
			Type:      event.ModelLoaded,
			Path:      path,
			Strategy:  strategy,
			ModelType: ad.ModelType(),
			Schema:    next.Schema,
		})
	}
	return next.Schema, nil
}

// dispatch routes by artifact extension: structured-text descriptors decode
// directly against the versioned schema; everything else goes through the
// strategy chain.
func (c *Controller) dispatch(path string) (any, string, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadDescriptor(path)
	}
	return c.loader.LoadModel(path)
}

func loadDescriptor(path string) (any, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &loader.FileAccessError{Path: path, Err: err}
	}
	var d model.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, "", fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	handle, err := model.FromDescriptor(&d)
	if err != nil {
		return nil, "", fmt.Errorf("descriptor %s: %w", path, err)
	}
	return handle, "JSON descriptor", nil
}

// Predict delegates to the active adapter.
func (c *Controller) Predict(features []float64) (adapter.Prediction, error) {
	if c.active == nil {
		return adapter.Prediction{}, ErrNotLoaded
	}
	start := time.Now()
	pred, err := c.active.Adapter.Predict(features)
	c.metrics.PredictionObserved(time.Since(start).Seconds(), err != nil)
	if err != nil {
		return adapter.Prediction{}, err
	}
	if c.bus != nil {
		c.bus.Publish(event.ModelEvent{
			Type:      event.ModelPredicted,
			Path:      c.active.Path,
			ModelType: c.active.Adapter.ModelType(),
			Label:     pred.Label,
		})
	}
	return pred, nil
}

// IsLoaded reports whether an active model exists.
func (c *Controller) IsLoaded() bool { return c.active != nil }

// Adapter returns the active adapter, or nil.
func (c *Controller) Adapter() *adapter.Adapter {
	if c.active == nil {
		return nil
	}
	return c.active.Adapter
}

// Schema returns a copy of the active feature schema.
func (c *Controller) Schema() []string {
	if c.active == nil {
		return nil
	}
	out := make([]string, len(c.active.Schema))
	copy(out, c.active.Schema)
	return out
}

// Active returns a copy of the active state descriptor, or nil.
func (c *Controller) Active() *ActiveModel {
	if c.active == nil {
		return nil
	}
	cp := *c.active
	cp.Schema = append([]string(nil), c.active.Schema...)
	return &cp
}
