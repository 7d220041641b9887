// Package metrics holds the Prometheus collectors of an evolution run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Generations     prometheus.Counter
	Evaluations     *prometheus.CounterVec
	EvalDuration    prometheus.Histogram
	BestFitness     prometheus.Gauge
	MeanFitness     prometheus.Gauge
	Mutations       *prometheus.CounterVec
	RegistrySize    prometheus.Gauge
	ValidationFails *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Generations: f.NewCounter(prometheus.CounterOpts{
			Name: "scenario_generations_total",
			Help: "Generations completed",
		}),
		// result: ok, no_results, error
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_oracle_evaluations_total",
			Help: "Oracle batch evaluations by result",
		}, []string{"result"}),
		EvalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scenario_oracle_evaluation_duration_seconds",
			Help:    "Oracle batch evaluation latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~45min
		}),
		BestFitness: f.NewGauge(prometheus.GaugeOpts{
			Name: "scenario_best_fitness",
			Help: "Best batch fitness of the latest generation",
		}),
		MeanFitness: f.NewGauge(prometheus.GaugeOpts{
			Name: "scenario_mean_fitness",
			Help: "Mean batch fitness of the latest generation",
		}),
		// outcome: mutated, forced, fallback, dropped, duplicate, backfilled, sampled, padded
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_mutation_outcomes_total",
			Help: "Per-scenario mutation outcomes",
		}, []string{"outcome"}),
		RegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "scenario_registry_fingerprints",
			Help: "Fingerprints in the novelty registry",
		}),
		ValidationFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_batch_validation_failures_total",
			Help: "Produced batches failing a validation check",
		}, []string{"check"}),
	}
}

// ObserveEvaluation records one oracle call.
func (m *Metrics) ObserveEvaluation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(result).Inc()
	m.EvalDuration.Observe(d.Seconds())
}

// ObserveGeneration records a completed generation's fitness summary.
func (m *Metrics) ObserveGeneration(best, mean float64) {
	if m == nil {
		return
	}
	m.Generations.Inc()
	m.BestFitness.Set(best)
	m.MeanFitness.Set(mean)
}

// AddMutations adds n to a mutation outcome counter.
func (m *Metrics) AddMutations(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Mutations.WithLabelValues(outcome).Add(float64(n))
}

// SetRegistrySize records the registry size.
func (m *Metrics) SetRegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistrySize.Set(float64(n))
}

// ValidationFailed counts a failed batch check.
func (m *Metrics) ValidationFailed(check string) {
	if m == nil {
		return
	}
	m.ValidationFails.WithLabelValues(check).Inc()
}
