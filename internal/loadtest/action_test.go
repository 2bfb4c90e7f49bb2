package loadtest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

type effectFunc func(ctx context.Context) error

func (f effectFunc) Execute(ctx context.Context) error { return f(ctx) }

func TestSideEffectAction_Success(t *testing.T) {
	called := 0
	action := loadtest.NewSideEffectAction("swap-route", effectFunc(func(ctx context.Context) error {
		called++
		return nil
	}), time.Second)

	res := action.Execute(context.Background(), loadtest.Iteration{Phase: "swapRoute", VU: loadtest.VirtualUser{ID: 1}, Number: 1})
	if res.Outcome != loadtest.OutcomeSuccess {
		t.Errorf("Outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if called != 1 {
		t.Errorf("side effect called %d times, want 1", called)
	}
	if res.Action != "swap-route" || res.Phase != "swapRoute" {
		t.Errorf("result = %+v", res)
	}
}

func TestSideEffectAction_Failure(t *testing.T) {
	boom := errors.New("exit status 3")
	action := loadtest.NewSideEffectAction("swap-route", effectFunc(func(ctx context.Context) error {
		return boom
	}), time.Second)

	res := action.Execute(context.Background(), loadtest.Iteration{Phase: "swapRoute"})
	if res.Outcome != loadtest.OutcomeFailure {
		t.Fatalf("Outcome = %s, want failure", res.Outcome)
	}

	var seErr *loadtest.SideEffectError
	if !errors.As(res.Err, &seErr) {
		t.Fatalf("Err = %T, want *SideEffectError", res.Err)
	}
	if seErr.Phase != "swapRoute" || seErr.Effect != "swap-route" || !errors.Is(res.Err, boom) {
		t.Errorf("SideEffectError = %+v", seErr)
	}
}

func TestSideEffectAction_TimeoutIgnoringContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	action := loadtest.NewSideEffectAction("stuck", effectFunc(func(ctx context.Context) error {
		<-block
		return nil
	}), 50*time.Millisecond)

	start := time.Now()
	res := action.Execute(context.Background(), loadtest.Iteration{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute blocked for %v, beyond its timeout", elapsed)
	}
	if res.Outcome != loadtest.OutcomeFailure || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Outcome = %s, Err = %v", res.Outcome, res.Err)
	}
}

func TestSideEffectAction_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	action := loadtest.NewSideEffectAction("noop", effectFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), time.Second)

	res := action.Execute(ctx, loadtest.Iteration{})
	if res.Outcome != loadtest.OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", res.Outcome)
	}
}

func TestNewSideEffectAction_DefaultTimeout(t *testing.T) {
	action := loadtest.NewSideEffectAction("x", effectFunc(func(context.Context) error { return nil }), 0)
	if action.Timeout() != loadtest.DefaultSideEffectTimeout {
		t.Errorf("Timeout() = %v, want %v", action.Timeout(), loadtest.DefaultSideEffectTimeout)
	}
}
