// Package executor provides the load generation strategies that turn a phase
// configuration into dispatched iterations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest"
	"github.com/wesleyorama2/ldload/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantArrivalRate maintains a fixed iteration rate (open model).
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeFixedIterations runs the action a fixed number of times in sequence.
	TypeFixedIterations Type = "fixed-iterations"
)

// OverloadPolicy decides what happens to a tick that finds every virtual
// user busy and the pool at its maximum size.
type OverloadPolicy string

const (
	// OverloadDrop skips the tick and records a dropped iteration.
	OverloadDrop OverloadPolicy = "drop"

	// OverloadWait blocks dispatch until a virtual user is idle and records
	// a delayed iteration.
	OverloadWait OverloadPolicy = "wait"
)

// DefaultGracefulStop is how long in-flight iterations may keep running after
// dispatch stops.
const DefaultGracefulStop = 30 * time.Second

var (
	// ErrNilAction is returned when Run is called without an action.
	ErrNilAction = errors.New("executor: nil action")

	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("executor: already running")

	// ErrNotInitialized is returned when Run is called before Init.
	ErrNotInitialized = errors.New("executor: not initialized")
)

// Executor defines the interface for load generation strategies.
//
// Executors control WHEN iterations happen and on which virtual user; the
// bound Action decides WHAT an iteration does.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates the configuration and applies defaults.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run dispatches iterations and blocks until every dispatched iteration
	// has been recorded in m. It returns context.Canceled when the run was
	// cut short by ctx or Stop.
	Run(ctx context.Context, action loadtest.Action, m *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends dispatch early. In-flight iterations still get the
	// graceful stop period.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of the phase this executor serves
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// Arrival-rate executors
	Duration        time.Duration  `json:"duration,omitempty" yaml:"duration,omitempty"`
	Rate            float64        `json:"rate,omitempty" yaml:"rate,omitempty"` // iterations per TimeUnit
	TimeUnit        time.Duration  `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int            `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int            `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`
	Overload        OverloadPolicy `json:"overload,omitempty" yaml:"overload,omitempty"`

	// Fixed-iterations executors
	Iterations  int64         `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	MaxDuration time.Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	BusyVUs   int `json:"busyVUs"`
	PeakVUs   int `json:"peakVUs"`
	MaxVUs    int `json:"maxVUs"`

	// Iteration stats
	Iterations      int64 `json:"iterations"`
	TotalIterations int64 `json:"totalIterations,omitempty"`

	// TargetRate is the dispatch rate in iterations per second
	TargetRate float64 `json:"targetRate,omitempty"`
}

// Validate validates the executor configuration. It does not modify c.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if c.TimeUnit < 0 {
			return &ValidationError{Field: "timeUnit", Message: "timeUnit must be >= 0"}
		}
		if c.PreAllocatedVUs < 0 {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
		}
		if c.MaxVUs < 0 {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= 0"}
		}
		if c.MaxVUs > 0 && c.PreAllocatedVUs > c.MaxVUs {
			return &ValidationError{
				Field:   "preAllocatedVUs",
				Message: fmt.Sprintf("preAllocatedVUs (%d) cannot exceed maxVUs (%d)", c.PreAllocatedVUs, c.MaxVUs),
			}
		}
		switch c.Overload {
		case "", OverloadDrop, OverloadWait:
		default:
			return &ValidationError{Field: "overload", Message: "overload must be drop or wait, got " + string(c.Overload)}
		}

	case TypeFixedIterations:
		if c.Iterations < 0 {
			return &ValidationError{Field: "iterations", Message: "iterations cannot be negative"}
		}
		if c.MaxDuration < 0 {
			return &ValidationError{Field: "maxDuration", Message: "maxDuration must be >= 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// applyDefaults fills zero values. Call after Validate.
func (c *Config) applyDefaults() {
	if c.TimeUnit <= 0 {
		c.TimeUnit = time.Second
	}
	if c.PreAllocatedVUs <= 0 {
		c.PreAllocatedVUs = 1
	}
	if c.MaxVUs <= 0 {
		c.MaxVUs = c.PreAllocatedVUs
	}
	if c.Overload == "" {
		c.Overload = OverloadDrop
	}
	if c.Iterations <= 0 {
		c.Iterations = 1
	}
	if c.GracefulStop <= 0 {
		c.GracefulStop = DefaultGracefulStop
	}
}

// TotalDuration returns the planned dispatch duration, or MaxDuration for
// fixed-iterations executors.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantArrivalRate:
		return c.Duration
	case TypeFixedIterations:
		return c.MaxDuration
	default:
		return 0
	}
}

// RatePerSecond converts Rate per TimeUnit to iterations per second.
func (c *Config) RatePerSecond() float64 {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = time.Second
	}
	return c.Rate / unit.Seconds()
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// runAction executes one iteration. It always returns a result: a panic or
// nil result becomes a failure, and an action that ignores ctx is abandoned
// with a cancelled result once ctx is done.
func runAction(ctx context.Context, action loadtest.Action, it loadtest.Iteration) *loadtest.IterationResult {
	done := make(chan *loadtest.IterationResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- loadtest.FailedResult(it, action.Name(), fmt.Errorf("action panicked: %v", r))
			}
		}()
		done <- action.Execute(ctx, it)
	}()

	var result *loadtest.IterationResult
	select {
	case result = <-done:
	case <-ctx.Done():
		select {
		case result = <-done:
		default:
			return loadtest.CancelledResult(it, action.Name(), ctx.Err())
		}
	}

	if result == nil {
		return loadtest.FailedResult(it, action.Name(), errors.New("action returned no result"))
	}
	return result
}
