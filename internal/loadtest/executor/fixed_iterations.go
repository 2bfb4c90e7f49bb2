package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
)

// FixedIterations runs the action exactly Iterations times, one after the
// other, on a single virtual user. It suits one-shot phases such as a side
// effect that must run once between two load phases.
//
// An optional MaxDuration stops starting new iterations once it elapses;
// the iteration in flight at that moment gets GracefulStop to finish.
type FixedIterations struct {
	config *Config
	logger *zap.Logger

	mu        sync.RWMutex // Protects startTime
	startTime time.Time

	completed atomic.Int64
	running   atomic.Bool
	stopped   atomic.Bool

	cancelMu   sync.Mutex // Protects cancelFunc
	cancelFunc context.CancelFunc
}

// NewFixedIterations creates a new fixed-iterations executor.
func NewFixedIterations(logger *zap.Logger) *FixedIterations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedIterations{logger: logger}
}

// Type returns the executor type.
func (e *FixedIterations) Type() Type {
	return TypeFixedIterations
}

// Init initializes the executor with configuration.
func (e *FixedIterations) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeFixedIterations {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeFixedIterations, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	config.applyDefaults()
	e.config = config
	e.logger = e.logger.With(zap.String("phase", config.Name))
	return nil
}

// Run executes the iterations in order.
func (e *FixedIterations) Run(ctx context.Context, action loadtest.Action, m *metrics.Engine) error {
	if e.config == nil {
		return ErrNotInitialized
	}
	if action == nil {
		return ErrNilAction
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.config.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.MaxDuration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()
	if e.stopped.Load() {
		cancel()
	}

	vu := loadtest.VirtualUser{ID: 1}
	m.SetActiveVUs(1)

	for n := int64(1); n <= e.config.Iterations; n++ {
		if runCtx.Err() != nil {
			break
		}

		m.ObserveBusyVUs(1)
		it := loadtest.Iteration{Phase: e.config.Name, VU: vu, Number: n, Scheduled: time.Now()}
		m.RecordIteration(e.runOne(runCtx, action, it))
		e.completed.Add(1)
	}

	m.Finish()

	if done := e.completed.Load(); done < e.config.Iterations {
		e.logger.Info("stopped before all iterations ran",
			zap.Int64("completed", done),
			zap.Int64("iterations", e.config.Iterations))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if e.stopped.Load() {
		return context.Canceled
	}
	return nil
}

// runOne runs a single iteration. If runCtx ends while the iteration is in
// flight, it gets GracefulStop before it is cancelled.
func (e *FixedIterations) runOne(runCtx context.Context, action loadtest.Action, it loadtest.Iteration) *loadtest.IterationResult {
	iterCtx, cancel := context.WithCancel(context.WithoutCancel(runCtx))
	defer cancel()

	done := make(chan *loadtest.IterationResult, 1)
	go func() {
		done <- runAction(iterCtx, action, it)
	}()

	select {
	case result := <-done:
		return result
	case <-runCtx.Done():
	}

	timer := time.NewTimer(e.config.GracefulStop)
	defer timer.Stop()

	select {
	case result := <-done:
		return result
	case <-timer.C:
		e.logger.Warn("graceful stop expired, cancelling iteration",
			zap.Int64("iteration", it.Number),
			zap.Duration("gracefulStop", e.config.GracefulStop))
		cancel()
		return <-done
	}
}

// GetProgress returns the share of iterations completed.
func (e *FixedIterations) GetProgress() float64 {
	if e.config == nil || e.config.Iterations == 0 {
		return 0.0
	}
	if !e.running.Load() {
		e.mu.RLock()
		started := !e.startTime.IsZero()
		e.mu.RUnlock()
		if started {
			return 1.0
		}
	}
	return float64(e.completed.Load()) / float64(e.config.Iterations)
}

// GetActiveVUs returns 1 while running.
func (e *FixedIterations) GetActiveVUs() int {
	if e.running.Load() {
		return 1
	}
	return 0
}

// GetStats returns executor statistics.
func (e *FixedIterations) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		StartTime:   e.startTime,
		CurrentTime: time.Now(),
		ActiveVUs:   e.GetActiveVUs(),
		MaxVUs:      1,
		Iterations:  e.completed.Load(),
	}
	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
		stats.PeakVUs = 1
	}
	if e.config != nil {
		stats.TotalDuration = e.config.MaxDuration
		stats.TotalIterations = e.config.Iterations
	}
	return stats
}

// Stop prevents further iterations from starting.
func (e *FixedIterations) Stop(ctx context.Context) error {
	e.stopped.Store(true)

	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()
	return nil
}

// Ensure FixedIterations implements Executor
var _ Executor = (*FixedIterations)(nil)
