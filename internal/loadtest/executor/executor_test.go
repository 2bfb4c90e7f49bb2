package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid arrival rate",
			config: Config{Type: TypeConstantArrivalRate, Rate: 110, Duration: 10 * time.Second, PreAllocatedVUs: 20, MaxVUs: 200},
		},
		{
			name:   "max defaults later",
			config: Config{Type: TypeConstantArrivalRate, Rate: 1, Duration: time.Second, PreAllocatedVUs: 20},
		},
		{
			name:    "missing type",
			config:  Config{},
			wantErr: "type",
		},
		{
			name:    "unknown type",
			config:  Config{Type: "ramping-vus"},
			wantErr: "unknown executor type",
		},
		{
			name:    "zero rate",
			config:  Config{Type: TypeConstantArrivalRate, Duration: time.Second},
			wantErr: "rate",
		},
		{
			name:    "zero duration",
			config:  Config{Type: TypeConstantArrivalRate, Rate: 1},
			wantErr: "duration",
		},
		{
			name:    "preallocated above max",
			config:  Config{Type: TypeConstantArrivalRate, Rate: 1, Duration: time.Second, PreAllocatedVUs: 20, MaxVUs: 15},
			wantErr: "cannot exceed maxVUs",
		},
		{
			name:    "bad overload policy",
			config:  Config{Type: TypeConstantArrivalRate, Rate: 1, Duration: time.Second, Overload: "queue"},
			wantErr: "overload",
		},
		{
			name:   "fixed iterations",
			config: Config{Type: TypeFixedIterations, Iterations: 1},
		},
		{
			name:    "negative iterations",
			config:  Config{Type: TypeFixedIterations, Iterations: -1},
			wantErr: "iterations",
		},
		{
			name:    "negative graceful stop",
			config:  Config{Type: TypeFixedIterations, GracefulStop: -time.Second},
			wantErr: "gracefulStop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Validate() error type = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	c := Config{Type: TypeConstantArrivalRate, Rate: 5, Duration: time.Second, PreAllocatedVUs: 4}
	c.applyDefaults()

	if c.TimeUnit != time.Second {
		t.Errorf("TimeUnit = %v, want 1s", c.TimeUnit)
	}
	if c.MaxVUs != 4 {
		t.Errorf("MaxVUs = %d, want PreAllocatedVUs (4)", c.MaxVUs)
	}
	if c.Overload != OverloadDrop {
		t.Errorf("Overload = %q, want drop", c.Overload)
	}
	if c.GracefulStop != DefaultGracefulStop {
		t.Errorf("GracefulStop = %v, want %v", c.GracefulStop, DefaultGracefulStop)
	}
}

func TestConfig_RatePerSecond(t *testing.T) {
	c := Config{Rate: 30, TimeUnit: time.Minute}
	if got := c.RatePerSecond(); got != 0.5 {
		t.Errorf("RatePerSecond() = %v, want 0.5", got)
	}
}

type stubAction struct {
	fn func(ctx context.Context, it loadtest.Iteration) *loadtest.IterationResult
}

func (a stubAction) Name() string { return "stub" }

func (a stubAction) Execute(ctx context.Context, it loadtest.Iteration) *loadtest.IterationResult {
	return a.fn(ctx, it)
}

func TestRunAction_RecoversPanic(t *testing.T) {
	action := stubAction{fn: func(context.Context, loadtest.Iteration) *loadtest.IterationResult {
		panic("boom")
	}}

	r := runAction(context.Background(), action, loadtest.Iteration{Phase: "p"})
	if r.Outcome != loadtest.OutcomeFailure || !strings.Contains(r.ErrorString(), "boom") {
		t.Errorf("runAction() = %+v, want failure mentioning the panic", r)
	}
}

func TestRunAction_NilResult(t *testing.T) {
	action := stubAction{fn: func(context.Context, loadtest.Iteration) *loadtest.IterationResult {
		return nil
	}}

	r := runAction(context.Background(), action, loadtest.Iteration{})
	if r == nil || r.Outcome != loadtest.OutcomeFailure {
		t.Errorf("runAction() = %+v, want failure", r)
	}
}

func TestRunAction_AbandonsActionIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	action := stubAction{fn: func(context.Context, loadtest.Iteration) *loadtest.IterationResult {
		<-release
		return nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := runAction(ctx, action, loadtest.Iteration{VU: loadtest.VirtualUser{ID: 3}, Number: 7})
	if time.Since(start) > time.Second {
		t.Fatal("runAction() did not return after cancellation")
	}
	if r.Outcome != loadtest.OutcomeCancelled {
		t.Errorf("Outcome = %q, want cancelled", r.Outcome)
	}
	if r.VUID != 3 || r.Iteration != 7 {
		t.Errorf("result identity = VU %d iteration %d, want 3/7", r.VUID, r.Iteration)
	}
}
