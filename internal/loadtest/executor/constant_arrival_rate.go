package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
	"github.com/wesleyorama2/ldload/internal/loadtest/rate"
)

// ConstantArrivalRate maintains a fixed iteration rate (open model).
//
// Iterations are dispatched at Rate per TimeUnit regardless of how long
// each one takes. A single dispatcher consumes ticks from a LeakyBucket in
// order and hands each tick to an idle virtual user, spawning new ones up
// to MaxVUs. When the pool is saturated the tick is dropped or waits,
// according to the overload policy. Under the wait policy the ticks that
// fall due meanwhile are dispatched late and counted as delayed; those still
// pending when dispatch ends are counted as dropped.
//
// When Duration elapses dispatch stops at once. In-flight iterations get
// GracefulStop to finish; the rest are cancelled and recorded as such.
//
// Example:
//
//	config:
//	  executor: constant-arrival-rate
//	  rate: 110              # 110 iterations per timeUnit
//	  timeUnit: 1s
//	  duration: 10m
//	  preAllocatedVUs: 20
//	  maxVUs: 200
type ConstantArrivalRate struct {
	config *Config
	logger *zap.Logger

	// State
	mu        sync.RWMutex // Protects startTime and pool
	startTime time.Time
	pool      *vuPool

	iterations atomic.Int64
	running    atomic.Bool
	stopped    atomic.Bool

	// Cancellation
	cancelMu   sync.Mutex // Protects cancelFunc
	cancelFunc context.CancelFunc
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate(logger *zap.Logger) *ConstantArrivalRate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConstantArrivalRate{logger: logger}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	config.applyDefaults()
	e.config = config
	e.logger = e.logger.With(zap.String("phase", config.Name))
	return nil
}

// Run dispatches iterations and blocks until every one has been recorded.
func (e *ConstantArrivalRate) Run(ctx context.Context, action loadtest.Action, m *metrics.Engine) error {
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

	pool := newVUPool(e.config.PreAllocatedVUs, e.config.MaxVUs)
	bucket := rate.NewLeakyBucket(e.config.Rate, e.config.TimeUnit)
	if e.config.Overload == OverloadWait {
		// Ticks that fall due while the dispatcher waits for a VU are kept
		// and served late.
		ticks := math.Ceil(e.config.Duration.Seconds()*e.config.RatePerSecond()) + 1
		bucket = rate.NewLeakyBucketWithBurst(e.config.Rate, e.config.TimeUnit, ticks)
	}

	e.mu.Lock()
	e.startTime = time.Now()
	e.pool = pool
	e.mu.Unlock()
	m.SetActiveVUs(pool.size())

	dispatchCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()
	if e.stopped.Load() {
		cancel()
	}

	// Iterations outlive dispatch by up to GracefulStop.
	iterCtx, cancelIterations := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIterations()

	e.logger.Debug("dispatch started",
		zap.Float64("ratePerSecond", e.config.RatePerSecond()),
		zap.Duration("duration", e.config.Duration),
		zap.Int("preAllocatedVUs", e.config.PreAllocatedVUs),
		zap.Int("maxVUs", e.config.MaxVUs))

	var wg sync.WaitGroup
	e.dispatch(dispatchCtx, iterCtx, &wg, pool, bucket, action, m)
	e.awaitInFlight(&wg, cancelIterations)

	m.SetActiveVUs(pool.size())
	m.Finish()

	e.logger.Debug("dispatch finished",
		zap.Int64("dispatched", e.iterations.Load()),
		zap.Int("peakVUs", pool.peakBusy()))

	if err := ctx.Err(); err != nil {
		return err
	}
	if e.stopped.Load() {
		return context.Canceled
	}
	return nil
}

// dispatch consumes ticks in order until ctx is done.
func (e *ConstantArrivalRate) dispatch(
	ctx, iterCtx context.Context,
	wg *sync.WaitGroup,
	pool *vuPool,
	bucket *rate.LeakyBucket,
	action loadtest.Action,
	m *metrics.Engine,
) {
	warned := false
	wait := e.config.Overload == OverloadWait

	// owed counts backlog ticks that fell due while dispatch was blocked.
	var owed int64

	for {
		if err := bucket.Wait(ctx); err != nil {
			if wait {
				e.dropBacklog(bucket, m)
			}
			return
		}
		scheduled := time.Now()

		delayed := owed > 0
		if delayed {
			owed--
		}

		vu, ok := pool.tryAcquire()
		if !ok {
			if !warned {
				warned = true
				e.logger.Warn("worker pool saturated",
					zap.Error(loadtest.ErrOverload),
					zap.Int("maxVUs", e.config.MaxVUs),
					zap.String("policy", string(e.config.Overload)))
			}

			if !wait {
				m.RecordDropped()
				continue
			}

			var err error
			vu, err = pool.acquire(ctx)
			if err != nil {
				// Dispatch ended before a VU freed up.
				m.RecordDropped()
				e.dropBacklog(bucket, m)
				return
			}
			delayed = true
			owed = bucket.Backlog()
		}
		if delayed {
			m.RecordDelayed()
		}

		m.SetActiveVUs(pool.size())
		m.ObserveBusyVUs(pool.busyCount())

		it := loadtest.Iteration{
			Phase:     e.config.Name,
			VU:        vu,
			Number:    e.iterations.Add(1),
			Scheduled: scheduled,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pool.release(it.VU)

			result := runAction(iterCtx, action, it)
			m.RecordIteration(result)
		}()
	}
}

// dropBacklog records the ticks that fell due but were never dispatched.
func (e *ConstantArrivalRate) dropBacklog(bucket *rate.LeakyBucket, m *metrics.Engine) {
	n := bucket.Backlog()
	if n > 0 {
		e.logger.Warn("dispatch ended with undispatched ticks", zap.Int64("dropped", n))
	}
	for i := int64(0); i < n; i++ {
		m.RecordDropped()
	}
}

// awaitInFlight waits up to GracefulStop for in-flight iterations, then
// cancels the stragglers and waits for their cancelled results.
func (e *ConstantArrivalRate) awaitInFlight(wg *sync.WaitGroup, cancelIterations context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("graceful stop expired, cancelling in-flight iterations",
			zap.Duration("gracefulStop", e.config.GracefulStop))
		cancelIterations()
		<-done
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of spawned VUs.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pool == nil {
		return 0
	}
	return e.pool.size()
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := &Stats{
		StartTime:   e.startTime,
		CurrentTime: time.Now(),
		Iterations:  e.iterations.Load(),
	}
	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
	}
	if e.config != nil {
		stats.TotalDuration = e.config.Duration
		stats.MaxVUs = e.config.MaxVUs
		stats.TargetRate = e.config.RatePerSecond()
	}
	if e.pool != nil {
		stats.ActiveVUs = e.pool.size()
		stats.BusyVUs = e.pool.busyCount()
		stats.PeakVUs = e.pool.peakBusy()
	}
	return stats
}

// Stop ends dispatch. Run returns once in-flight iterations are accounted.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
	e.stopped.Store(true)

	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()
	return nil
}

// Ensure ConstantArrivalRate implements Executor
var _ Executor = (*ConstantArrivalRate)(nil)
