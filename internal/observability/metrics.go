// Package observability exposes Prometheus metrics for the prediction and
// delivery pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// prediction and notification pipeline.
type Metrics struct {
	PredictionsTotal    *prometheus.CounterVec // labels: condition, source, level
	PredictionErrors    *prometheus.CounterVec // labels: condition
	RemoteFailures      prometheus.Counter
	ModelCallDuration   prometheus.Histogram
	WeatherFetchErrors  prometheus.Counter
	DeliveriesTotal     *prometheus.CounterVec // labels: kind, status
	SchedulerPassActive prometheus.Gauge
	PassDuration        prometheus.Histogram
	VerdictsPurged      prometheus.Counter
}

func build() *Metrics {
	return &Metrics{
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forewarn",
			Name:      "predictions_total",
			Help:      "Verdicts produced, by condition, classifier source, and level.",
		}, []string{"condition", "source", "level"}),
		PredictionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forewarn",
			Name:      "prediction_errors_total",
			Help:      "Prediction passes that produced no verdict due to an error.",
		}, []string{"condition"}),
		RemoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forewarn",
			Name:      "remote_classifier_failures_total",
			Help:      "Remote model attempts that fell back to the deterministic classifier.",
		}),
		ModelCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forewarn",
			Name:      "model_call_duration_seconds",
			Help:      "End-to-end duration of remote model calls, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		WeatherFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forewarn",
			Name:      "weather_fetch_errors_total",
			Help:      "Failed forecast fetches, each skipping a location for one pass.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forewarn",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by kind and status.",
		}, []string{"kind", "status"}),
		SchedulerPassActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forewarn",
			Name:      "scheduler_pass_active",
			Help:      "1 while a prediction pass is running, 0 otherwise.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forewarn",
			Name:      "scheduler_pass_duration_seconds",
			Help:      "Duration of a complete prediction pass across all locations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		VerdictsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forewarn",
			Name:      "verdicts_purged_total",
			Help:      "Old verdict rows removed by the retention job.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := build()
	prometheus.MustRegister(
		m.PredictionsTotal,
		m.PredictionErrors,
		m.RemoteFailures,
		m.ModelCallDuration,
		m.WeatherFetchErrors,
		m.DeliveriesTotal,
		m.SchedulerPassActive,
		m.PassDuration,
		m.VerdictsPurged,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return build()
}
