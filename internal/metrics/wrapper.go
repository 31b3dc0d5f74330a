package metrics

// Wrapper adapts Metrics to the narrow interfaces other packages consume,
// avoiding circular imports. A nil wrapper is safe to call.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wraps m; m may be nil.
func NewWrapper(m *Metrics) *Wrapper {
	if m == nil {
		return nil
	}
	return &Wrapper{m: m}
}

// LoadSuccessInc implements loader.Metrics.
func (w *Wrapper) LoadSuccessInc(strategy string) {
	if w == nil {
		return
	}
	w.m.ModelLoads.WithLabelValues(strategy).Inc()
}

// LoadFailureInc implements loader.Metrics.
func (w *Wrapper) LoadFailureInc() {
	if w == nil {
		return
	}
	w.m.ModelLoadFails.Inc()
}

// StrategyAttemptInc implements loader.Metrics.
func (w *Wrapper) StrategyAttemptInc(strategy string) {
	if w == nil {
		return
	}
	w.m.StrategyAttempts.WithLabelValues(strategy).Inc()
}

// PredictionObserved records one served prediction.
func (w *Wrapper) PredictionObserved(seconds float64, failed bool) {
	if w == nil {
		return
	}
	if failed {
		w.m.PredictFails.Inc()
		return
	}
	w.m.Predictions.Inc()
	w.m.PredictLatency.Observe(seconds)
}

// ExplanationObserved records one computed explanation.
func (w *Wrapper) ExplanationObserved(seconds float64) {
	if w == nil {
		return
	}
	w.m.Explanations.Inc()
	w.m.ExplainLatency.Observe(seconds)
}

// ModelAgeSet updates the active model age gauge.
func (w *Wrapper) ModelAgeSet(seconds float64) {
	if w == nil {
		return
	}
	w.m.ModelAge.Set(seconds)
}
