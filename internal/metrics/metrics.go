// Package metrics provides Prometheus metrics collection for the explainer
// tool: model load outcomes, per-strategy attempt counts, prediction and
// explanation activity, and the age of the active model.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the tool.
type Metrics struct {
	// Load pipeline metrics
	ModelLoads       *prometheus.CounterVec // Successful loads, labeled by winning strategy
	ModelLoadFails   prometheus.Counter     // Loads where every strategy failed
	StrategyAttempts *prometheus.CounterVec // Strategy attempts, labeled by strategy

	// Prediction metrics
	Predictions    prometheus.Counter   // Total predictions served
	PredictFails   prometheus.Counter   // Failed predictions
	PredictLatency prometheus.Histogram // Prediction latency in seconds

	// Explanation metrics
	Explanations   prometheus.Counter   // Total explanations computed
	ExplainLatency prometheus.Histogram // Explanation latency in seconds

	// Model state metrics
	ModelAge prometheus.Gauge // Seconds since the active model was loaded
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry, keeping tests
// isolated from the global state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_loads_total",
			Help: "Successful model loads by winning strategy",
		}, []string{"strategy"}),
		ModelLoadFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_load_failures_total",
			Help: "Model loads where every strategy failed",
		}),
		StrategyAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strategy_attempts_total",
			Help: "Decoding strategy attempts by strategy",
		}, []string{"strategy"}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total predictions served",
		}),
		PredictFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Predictions that returned an error",
		}),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		Explanations: factory.NewCounter(prometheus.CounterOpts{
			Name: "explanations_total",
			Help: "Total explanations computed",
		}),
		ExplainLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "explanation_latency_seconds",
			Help:    "Explanation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Seconds since the active model was loaded",
		}),
	}
}
