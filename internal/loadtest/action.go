package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Action is the unit of work executed once per iteration.
//
// Execute must always return a non-nil result and should return promptly
// once ctx is cancelled.
type Action interface {
	Name() string
	Execute(ctx context.Context, it Iteration) *IterationResult
}

// SideEffect is an opaque one-shot hook such as a shell command, an HTTP
// callback or a published message. Its only contract is success or error.
type SideEffect interface {
	Execute(ctx context.Context) error
}

// RequestAction issues one HTTP request per iteration.
type RequestAction struct {
	issuer  *Issuer
	request *Request
}

// NewRequestAction binds req to issuer.
func NewRequestAction(issuer *Issuer, req *Request) *RequestAction {
	return &RequestAction{issuer: issuer, request: req}
}

// Name returns the request name.
func (a *RequestAction) Name() string {
	return a.request.Name
}

// Execute issues the request.
func (a *RequestAction) Execute(ctx context.Context, it Iteration) *IterationResult {
	return a.issuer.Issue(ctx, it, a.request)
}

// DefaultSideEffectTimeout bounds a side effect with no declared timeout.
const DefaultSideEffectTimeout = 60 * time.Second

// SideEffectAction runs a SideEffect as an iteration.
type SideEffectAction struct {
	name    string
	effect  SideEffect
	timeout time.Duration
}

// NewSideEffectAction wraps effect. A non-positive timeout uses
// DefaultSideEffectTimeout.
func NewSideEffectAction(name string, effect SideEffect, timeout time.Duration) *SideEffectAction {
	if timeout <= 0 {
		timeout = DefaultSideEffectTimeout
	}
	return &SideEffectAction{name: name, effect: effect, timeout: timeout}
}

// Name returns the side effect name.
func (a *SideEffectAction) Name() string {
	return a.name
}

// Timeout returns the hook timeout.
func (a *SideEffectAction) Timeout() time.Duration {
	return a.timeout
}

// Execute runs the hook and waits at most for its timeout, even if the hook
// ignores its context. Failures are reported as *SideEffectError.
func (a *SideEffectAction) Execute(ctx context.Context, it Iteration) *IterationResult {
	result := newResult(it, a.name)

	hookCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("side effect panicked: %v", r)
			}
		}()
		done <- a.effect.Execute(hookCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-hookCtx.Done():
		err = hookCtx.Err()
	}

	if err == nil {
		return result.finish(OutcomeSuccess, nil)
	}
	if ctx.Err() != nil {
		return result.finish(OutcomeCancelled, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", a.timeout, err)
	}
	return result.finish(OutcomeFailure, &SideEffectError{Phase: it.Phase, Effect: a.name, Err: err})
}
