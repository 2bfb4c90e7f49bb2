package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	engine := NewEngineWithConfig(EngineConfig{Name: "fastRoute", Sinks: []SampleSink{collector}})

	engine.RecordIteration(&loadtest.IterationResult{
		Phase:    "fastRoute",
		Outcome:  loadtest.OutcomeSuccess,
		Duration: 5 * time.Millisecond,
		Checks:   []loadtest.CheckResult{{Name: "status is 204", Passed: true}},
	})
	engine.RecordIteration(&loadtest.IterationResult{
		Phase:    "fastRoute",
		Outcome:  loadtest.OutcomeFailure,
		Duration: 5 * time.Millisecond,
		Checks:   []loadtest.CheckResult{{Name: "status is 204"}},
	})
	engine.RecordIteration(&loadtest.IterationResult{Phase: "fastRoute", Outcome: loadtest.OutcomeCancelled})
	engine.RecordDropped()

	if got := testutil.ToFloat64(collector.iterations.WithLabelValues("fastRoute", "success")); got != 1 {
		t.Errorf("success iterations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.iterations.WithLabelValues("fastRoute", "cancelled")); got != 1 {
		t.Errorf("cancelled iterations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.checks.WithLabelValues("fastRoute", "status is 204", "fail")); got != 1 {
		t.Errorf("failed checks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.overload.WithLabelValues("fastRoute", "dropped")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(collector.duration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestNewCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewCollector(reg); err != nil {
		t.Fatalf("first NewCollector() error = %v", err)
	}
	if _, err := NewCollector(reg); err == nil {
		t.Error("second NewCollector() on the same registry should fail")
	}
}
