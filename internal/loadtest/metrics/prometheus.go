package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

// Collector exports live samples as Prometheus metrics. It implements
// SampleSink.
type Collector struct {
	iterations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	checks     *prometheus.CounterVec
	overload   *prometheus.CounterVec
}

// NewCollector creates a collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldload",
			Name:      "iterations_total",
			Help:      "Finished iterations by phase and outcome.",
		}, []string{"phase", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ldload",
			Name:      "iteration_duration_seconds",
			Help:      "Duration of completed iterations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"phase"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldload",
			Name:      "checks_total",
			Help:      "Evaluated checks by phase and result.",
		}, []string{"phase", "check", "result"}),
		overload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldload",
			Name:      "overload_total",
			Help:      "Ticks that found the worker pool saturated.",
		}, []string{"phase", "kind"}),
	}

	for _, col := range []prometheus.Collector{c.iterations, c.duration, c.checks, c.overload} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveIteration implements SampleSink.
func (c *Collector) ObserveIteration(r *loadtest.IterationResult) {
	c.iterations.WithLabelValues(r.Phase, string(r.Outcome)).Inc()
	if r.Outcome != loadtest.OutcomeCancelled {
		c.duration.WithLabelValues(r.Phase).Observe(r.Duration.Seconds())
	}
	for _, check := range r.Checks {
		result := "pass"
		if !check.Passed {
			result = "fail"
		}
		c.checks.WithLabelValues(r.Phase, check.Name, result).Inc()
	}
}

// ObserveOverload implements SampleSink.
func (c *Collector) ObserveOverload(phase string, dropped bool) {
	kind := "delayed"
	if dropped {
		kind = "dropped"
	}
	c.overload.WithLabelValues(phase, kind).Inc()
}

var _ SampleSink = (*Collector)(nil)
