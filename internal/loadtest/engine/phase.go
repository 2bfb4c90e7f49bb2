package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/config"
	"github.com/wesleyorama2/ldload/internal/loadtest/executor"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
)

// PhaseState is the lifecycle state of a phase.
type PhaseState int32

const (
	PhasePending PhaseState = iota
	PhaseRunning
	PhaseCompleted
	PhaseCancelled
)

func (s PhaseState) String() string {
	switch s {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s PhaseState) Terminal() bool {
	return s == PhaseCompleted || s == PhaseCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s PhaseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Phase binds one scenario to its executor and action.
//
// A phase moves Pending -> Running -> Completed or Cancelled, or straight
// from Pending to Cancelled if the run ends before it starts. Done is
// closed on entering a terminal state.
type Phase struct {
	Name     string
	Config   *config.ScenarioConfig
	Executor executor.Executor
	Action   loadtest.Action

	offset  time.Duration
	deps    []*Phase
	sinks   []metrics.SampleSink
	logger  *zap.Logger
	metrics atomic.Pointer[metrics.Engine]

	state atomic.Int32
	done  chan struct{}

	mu         sync.Mutex
	startTime  time.Time
	endTime    time.Time
	err        error
	effectErrs []*loadtest.SideEffectError
}

func newPhase(sc *config.ScenarioConfig, exec executor.Executor, action loadtest.Action, offset time.Duration, sinks []metrics.SampleSink, logger *zap.Logger) *Phase {
	p := &Phase{
		Name:     sc.Name,
		Config:   sc,
		Executor: exec,
		offset:   offset,
		sinks:    sinks,
		logger:   logger.With(zap.String("phase", sc.Name)),
		done:     make(chan struct{}),
	}
	p.Action = &phaseAction{Action: action, phase: p}
	return p
}

// Metrics returns the phase's metrics engine, or nil before the phase has
// started or been cancelled.
func (p *Phase) Metrics() *metrics.Engine {
	return p.metrics.Load()
}

// startMetrics creates the metrics engine so elapsed time and rates count
// from the moment the phase leaves Pending.
func (p *Phase) startMetrics() *metrics.Engine {
	m := metrics.NewEngineWithConfig(metrics.EngineConfig{Name: p.Name, Sinks: p.sinks})
	p.metrics.Store(m)
	return m
}

// State returns the current state.
func (p *Phase) State() PhaseState {
	return PhaseState(p.state.Load())
}

// Done is closed once the phase is terminal.
func (p *Phase) Done() <-chan struct{} {
	return p.done
}

// transition moves the phase from one state to another. It fails if the
// phase is not in the expected state or from is terminal.
func (p *Phase) transition(from, to PhaseState) bool {
	if from.Terminal() || from == to {
		return false
	}
	if !p.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	now := time.Now()
	p.mu.Lock()
	if to == PhaseRunning {
		p.startTime = now
	}
	if to.Terminal() {
		p.endTime = now
	}
	p.mu.Unlock()

	if to.Terminal() {
		close(p.done)
	}
	return true
}

// run waits for the phase's dependencies and its start offset, then runs
// the executor to completion. runStart is the orchestrator start time.
func (p *Phase) run(ctx context.Context, runStart time.Time) {
	for _, dep := range p.deps {
		select {
		case <-dep.Done():
		case <-ctx.Done():
			p.cancelPending()
			return
		}
	}

	if wait := time.Until(runStart.Add(p.offset)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			p.cancelPending()
			return
		}
	}

	if ctx.Err() != nil {
		p.cancelPending()
		return
	}
	m := p.startMetrics()
	if !p.transition(PhasePending, PhaseRunning) {
		return
	}

	p.logger.Info("phase started",
		zap.String("executor", string(p.Executor.Type())),
		zap.Int("dependencies", len(p.deps)))

	err := p.Executor.Run(ctx, p.Action, m)

	final := PhaseCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		final = PhaseCancelled
	default:
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.logger.Error("phase failed", zap.Error(err))
	}
	p.transition(PhaseRunning, final)

	snap := m.Snapshot()
	p.logger.Info("phase finished",
		zap.Stringer("state", final),
		zap.Int64("issued", snap.Issued),
		zap.Int64("succeeded", snap.Succeeded),
		zap.Int64("failed", snap.Failed),
		zap.Int64("cancelled", snap.Cancelled),
		zap.Int64("dropped", snap.Dropped),
		zap.Duration("elapsed", snap.Elapsed))
}

func (p *Phase) cancelPending() {
	if p.State() != PhasePending {
		return
	}
	p.startMetrics().Finish()
	if p.transition(PhasePending, PhaseCancelled) {
		p.logger.Info("phase cancelled before start")
	}
}

// SideEffectErrors returns the hook failures recorded so far.
func (p *Phase) SideEffectErrors() []*loadtest.SideEffectError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*loadtest.SideEffectError(nil), p.effectErrs...)
}

// Result returns the phase result.
func (p *Phase) Result() *PhaseResult {
	p.mu.Lock()
	start, end, err := p.startTime, p.endTime, p.err
	p.mu.Unlock()

	r := &PhaseResult{
		Name:      p.Name,
		Executor:  string(p.Executor.Type()),
		State:     p.State(),
		StartTime: start,
		EndTime:   end,
		Stats:     p.Executor.GetStats(),
	}
	if m := p.Metrics(); m != nil {
		r.Metrics = m.Snapshot()
	} else {
		r.Metrics = metrics.NewEngine().Snapshot()
	}
	if !start.IsZero() && !end.IsZero() {
		r.Duration = end.Sub(start)
	}
	if err != nil {
		r.Error = err.Error()
	}
	for _, e := range p.SideEffectErrors() {
		r.SideEffectErrors = append(r.SideEffectErrors, e.Error())
	}
	return r
}

// PhaseResult contains the results of a single phase.
type PhaseResult struct {
	Name             string            `json:"name"`
	Executor         string            `json:"executor"`
	State            PhaseState        `json:"state"`
	StartTime        time.Time         `json:"startTime"`
	EndTime          time.Time         `json:"endTime"`
	Duration         time.Duration     `json:"duration"`
	Metrics          *metrics.Snapshot `json:"metrics"`
	Stats            *executor.Stats   `json:"stats,omitempty"`
	SideEffectErrors []string          `json:"sideEffectErrors,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// phaseAction records hook failures against the phase that ran them.
type phaseAction struct {
	loadtest.Action
	phase *Phase
}

func (a *phaseAction) Execute(ctx context.Context, it loadtest.Iteration) *loadtest.IterationResult {
	r := a.Action.Execute(ctx, it)

	var seErr *loadtest.SideEffectError
	if r != nil && errors.As(r.Err, &seErr) {
		a.phase.mu.Lock()
		a.phase.effectErrs = append(a.phase.effectErrs, seErr)
		a.phase.mu.Unlock()
		a.phase.logger.Error("side effect failed",
			zap.String("effect", seErr.Effect),
			zap.Int64("iteration", it.Number),
			zap.Error(seErr.Err))
	}
	return r
}
