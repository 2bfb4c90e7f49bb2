package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/config"
	"github.com/wesleyorama2/ldload/internal/loadtest/executor"
)

type effectFunc func(ctx context.Context) error

func (f effectFunc) Execute(ctx context.Context) error { return f(ctx) }

func testPhase(t *testing.T, name string, effect effectFunc) *Phase {
	t.Helper()
	sc := &config.ScenarioConfig{Name: name, Executor: string(executor.TypeFixedIterations), Iterations: 1}
	execCfg, err := sc.ToExecutorConfig()
	if err != nil {
		t.Fatal(err)
	}
	exec, err := executor.CreateAndInit(context.Background(), execCfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	action := loadtest.NewSideEffectAction(name, effect, time.Second)
	return newPhase(sc, exec, action, 0, nil, zap.NewNop())
}

func TestPhaseState_String(t *testing.T) {
	tests := map[PhaseState]string{
		PhasePending:   "pending",
		PhaseRunning:   "running",
		PhaseCompleted: "completed",
		PhaseCancelled: "cancelled",
		PhaseState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("PhaseState(%d).String() = %q, want %q", int(state), got, want)
		}
	}

	b, err := json.Marshal(map[string]PhaseState{"state": PhaseCancelled})
	if err != nil || string(b) != `{"state":"cancelled"}` {
		t.Errorf("json = %s, %v", b, err)
	}
}

func TestPhase_Transitions(t *testing.T) {
	p := testPhase(t, "swap", func(context.Context) error { return nil })

	if p.transition(PhaseRunning, PhaseCompleted) {
		t.Error("Running -> Completed should fail from Pending")
	}
	if !p.transition(PhasePending, PhaseRunning) {
		t.Fatal("Pending -> Running failed")
	}
	if !p.transition(PhaseRunning, PhaseCompleted) {
		t.Fatal("Running -> Completed failed")
	}
	for _, to := range []PhaseState{PhasePending, PhaseRunning, PhaseCompleted, PhaseCancelled} {
		if p.transition(PhaseCompleted, to) {
			t.Errorf("Completed -> %v should fail: terminal states are final", to)
		}
	}
	if p.transition(PhaseRunning, PhaseCancelled) {
		t.Error("Running -> Cancelled should fail once completed")
	}
	if p.State() != PhaseCompleted {
		t.Errorf("State() = %v, want completed", p.State())
	}

	select {
	case <-p.Done():
	default:
		t.Error("Done() should be closed in a terminal state")
	}
}

func TestPhase_CancelledIsFinal(t *testing.T) {
	p := testPhase(t, "after", func(context.Context) error { return nil })

	p.cancelPending()
	p.cancelPending()
	if p.transition(PhaseCancelled, PhaseRunning) || p.transition(PhaseCancelled, PhaseCompleted) {
		t.Error("Cancelled should be final")
	}
	if p.State() != PhaseCancelled {
		t.Errorf("State() = %v, want cancelled", p.State())
	}
}

func TestPhase_RunRecordsSideEffectError(t *testing.T) {
	p := testPhase(t, "swap", func(context.Context) error { return errors.New("route table locked") })
	p.run(context.Background(), time.Now())

	if p.State() != PhaseCompleted {
		t.Errorf("State() = %v, want completed", p.State())
	}
	errs := p.SideEffectErrors()
	if len(errs) != 1 || errs[0].Phase != "swap" {
		t.Fatalf("SideEffectErrors() = %v", errs)
	}

	r := p.Result()
	if r.Metrics.Issued != 1 || r.Metrics.Failed != 1 {
		t.Errorf("metrics = %+v", r.Metrics)
	}
	if len(r.SideEffectErrors) != 1 || r.Duration <= 0 {
		t.Errorf("result = %+v", r)
	}
}

func TestPhase_CancelledBeforeStart(t *testing.T) {
	dep := testPhase(t, "dep", func(context.Context) error { return nil })
	p := testPhase(t, "next", func(context.Context) error {
		t.Error("phase should not run")
		return nil
	})
	p.deps = []*Phase{dep}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.run(ctx, time.Now())

	if p.State() != PhaseCancelled {
		t.Errorf("State() = %v, want cancelled", p.State())
	}
	r := p.Result()
	if r.Metrics == nil || r.Metrics.Issued != 0 {
		t.Errorf("metrics = %+v", r.Metrics)
	}
}

func TestPhase_ResultBeforeStart(t *testing.T) {
	p := testPhase(t, "idle", func(context.Context) error { return nil })
	r := p.Result()
	if r.State != PhasePending || r.Metrics == nil || r.Metrics.Issued != 0 {
		t.Errorf("Result() = %+v", r)
	}
	if p.Metrics() != nil {
		t.Error("Metrics() should be nil before start")
	}
}
