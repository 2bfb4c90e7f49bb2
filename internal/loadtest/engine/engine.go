// Package engine orchestrates the phases of a load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/config"
	"github.com/wesleyorama2/ldload/internal/loadtest/executor"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
	"github.com/wesleyorama2/ldload/internal/loadtest/sideeffect"
)

var (
	// ErrAlreadyRunning is returned by Run while a run is in progress.
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrAlreadyRan is returned by Run once the engine has finished a run.
	ErrAlreadyRan = errors.New("engine has already run")
)

// Engine is the orchestrator for a load test run.
//
// It coordinates:
//   - Configuration validation and defaults
//   - Phase ordering from after edges, groups and sequential mode
//   - Phase execution with their respective executors
//   - Metrics aggregation and threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("route-swap.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	logger *zap.Logger
	sinks  []metrics.SampleSink

	httpConfig loadtest.HTTPClientConfig
	httpClient *http.Client

	phases  []*Phase
	closers []io.Closer

	mu        sync.RWMutex
	running   bool
	finished  bool
	startTime time.Time
	cancel    context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSampleSink adds sinks that receive every iteration of every phase.
func WithSampleSink(sinks ...metrics.SampleSink) Option {
	return func(e *Engine) {
		for _, s := range sinks {
			if s != nil {
				e.sinks = append(e.sinks, s)
			}
		}
	}
}

// WithHTTPClient replaces the shared client built from the settings.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = client
	}
}

// RunResult contains the complete run results.
type RunResult struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Phases in declaration order
	Phases []*PhaseResult `json:"phases"`

	// Totals aggregates every phase
	Totals *metrics.Snapshot `json:"totals"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	SideEffectErrors []string `json:"sideEffectErrors,omitempty"`

	// Cancelled is set when the run was stopped before every phase finished
	Cancelled bool `json:"cancelled"`
}

// Phase returns the named phase result, or nil.
func (r *RunResult) Phase(name string) *PhaseResult {
	for _, p := range r.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// NewEngine validates cfg and builds every phase. A configuration error is
// returned before any request is issued and satisfies config.IsConfigError.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.ApplyDefaults(cfg)

	e := &Engine{
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.httpConfig = loadtest.DefaultHTTPClientConfig()
	e.httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(e.httpConfig.Timeout)
	e.httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	e.httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	e.httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify
	if e.httpClient == nil {
		e.httpClient = loadtest.NewHTTPClient(e.httpConfig)
	}

	if err := e.buildPhases(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// buildPhases creates an action and an initialized executor per scenario
// and links dependencies.
func (e *Engine) buildPhases() error {
	deps, err := e.config.Dependencies()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	byName := make(map[string]*Phase, len(e.config.Scenarios))
	for _, sc := range e.config.Scenarios {
		action, err := e.buildAction(sc)
		if err != nil {
			return &config.ValidationError{Field: "scenarios." + sc.Name, Message: err.Error()}
		}

		execCfg, err := sc.ToExecutorConfig()
		if err != nil {
			return &config.ValidationError{Field: "scenarios." + sc.Name, Message: err.Error()}
		}
		exec, err := executor.CreateAndInit(context.Background(), execCfg, e.logger)
		if err != nil {
			return &config.ValidationError{Field: "scenarios." + sc.Name, Message: err.Error()}
		}

		offset, err := sc.StartOffset()
		if err != nil {
			return &config.ValidationError{Field: "scenarios." + sc.Name + ".startTime", Message: err.Error()}
		}

		phase := newPhase(sc, exec, action, offset, e.sinks, e.logger)
		e.phases = append(e.phases, phase)
		byName[sc.Name] = phase
	}

	for _, phase := range e.phases {
		for _, dep := range deps[phase.Name] {
			phase.deps = append(phase.deps, byName[dep])
		}
	}
	return nil
}

// buildAction compiles the scenario's request or side effect.
func (e *Engine) buildAction(sc *config.ScenarioConfig) (loadtest.Action, error) {
	if rc := sc.Request; rc != nil {
		req, err := rc.Compile(e.httpConfig.Timeout)
		if err != nil {
			return nil, fmt.Errorf("request: %w", err)
		}
		issuer := loadtest.NewIssuer(e.httpClient, loadtest.RequestDefaults{
			Headers:   e.config.Settings.Headers,
			UserAgent: e.config.Settings.UserAgent,
			Variables: config.MergeVariables(e.config.TemplateVariables(), sc.Tags),
		})
		return loadtest.NewRequestAction(issuer, req), nil
	}

	se := sc.SideEffect
	timeout, err := config.ParseDurationString(se.Timeout)
	if err != nil {
		return nil, fmt.Errorf("sideEffect timeout: %w", err)
	}

	var effect loadtest.SideEffect
	switch se.Type {
	case "command":
		effect = sideeffect.NewCommand(se.Command, e.logger.With(zap.String("phase", sc.Name)))
	case "webhook":
		effect = sideeffect.NewWebhook(e.httpClient, se.Method, se.URL, se.Headers, se.Body)
	case "redis":
		pub, err := sideeffect.NewRedisPublish(se.Addr, se.Channel, se.Message)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pub)
		effect = pub
	default:
		return nil, fmt.Errorf("invalid side effect type: %s", se.Type)
	}

	return loadtest.NewSideEffectAction(se.Name, effect, timeout), nil
}

// Run executes every phase and returns the run result.
//
// Phases without dependencies start concurrently at their start offset;
// the rest start once every dependency has terminated, whatever its
// outcome. Cancelling ctx or calling Stop ends the run: running phases
// stop dispatching and give in-flight iterations their graceful stop,
// pending phases are cancelled. A cancelled run still returns a result,
// with Cancelled set, and a nil error.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if e.finished {
		e.mu.Unlock()
		return nil, ErrAlreadyRan
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.startTime = time.Now()
	e.cancel = cancel
	start := e.startTime
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.finished = true
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run", runID))
	logger.Info("run started",
		zap.String("name", e.config.Name),
		zap.Int("phases", len(e.phases)))

	var g errgroup.Group
	for _, phase := range e.phases {
		g.Go(func() error {
			phase.run(runCtx, start)
			return nil
		})
	}
	_ = g.Wait()

	result := e.collect(runID, start)
	result.Cancelled = runCtx.Err() != nil && !e.allCompleted()

	logger.Info("run finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("cancelled", result.Cancelled),
		zap.Int64("issued", result.Totals.Issued),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (e *Engine) allCompleted() bool {
	for _, p := range e.phases {
		if p.State() != PhaseCompleted {
			return false
		}
	}
	return true
}

// collect builds the run result from the phases.
func (e *Engine) collect(runID string, start time.Time) *RunResult {
	end := time.Now()
	result := &RunResult{
		ID:          runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Passed:      true,
	}

	engines := make([]*metrics.Engine, 0, len(e.phases))
	for _, p := range e.phases {
		pr := p.Result()
		result.Phases = append(result.Phases, pr)
		result.SideEffectErrors = append(result.SideEffectErrors, pr.SideEffectErrors...)
		engines = append(engines, p.Metrics())
	}

	merged := metrics.Merge(engines...)
	merged.Finish()
	result.Totals = merged.Snapshot()

	result.Thresholds = EvaluateThresholds(e.config.Thresholds, result.Totals)
	for _, tr := range result.Thresholds {
		if !tr.Passed {
			result.Passed = false
			break
		}
	}
	return result
}

// Stop cancels the run. Running phases stop dispatching and pending phases
// never start. Run returns once in-flight iterations are accounted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	cancel := e.cancel
	running := e.running
	e.mu.RUnlock()

	if !running || cancel == nil {
		return nil
	}
	e.logger.Info("stopping run")
	cancel()
	return nil
}

// Close releases connections held by side effects.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Progress returns a live aggregate snapshot of every started phase.
func (e *Engine) Progress() *metrics.Snapshot {
	engines := make([]*metrics.Engine, 0, len(e.phases))
	for _, p := range e.phases {
		engines = append(engines, p.Metrics())
	}
	return metrics.Merge(engines...).Snapshot()
}

// GetProgress returns the overall run progress (0.0 to 1.0) as the mean of
// per-phase progress. Terminal phases count as done.
func (e *Engine) GetProgress() float64 {
	if len(e.phases) == 0 {
		return 0.0
	}

	var total float64
	for _, p := range e.phases {
		switch p.State() {
		case PhaseCompleted, PhaseCancelled:
			total += 1.0
		case PhaseRunning:
			total += p.Executor.GetProgress()
		}
	}
	return total / float64(len(e.phases))
}

// PhaseStatus is a live view of one phase.
type PhaseStatus struct {
	Name  string
	State PhaseState
	Stats *executor.Stats
}

// PhaseStatuses returns the live status of every phase in declaration order.
func (e *Engine) PhaseStatuses() []PhaseStatus {
	statuses := make([]PhaseStatus, len(e.phases))
	for i, p := range e.phases {
		statuses[i] = PhaseStatus{Name: p.Name, State: p.State(), Stats: p.Executor.GetStats()}
	}
	return statuses
}

// Phases returns the phases in declaration order.
func (e *Engine) Phases() []*Phase {
	return e.phases
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}
