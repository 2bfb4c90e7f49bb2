package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrOverload is reported when a tick could not be dispatched because the
// worker pool is saturated at its maximum size.
var ErrOverload = errors.New("worker pool saturated")

// NetworkError wraps a connection, DNS or timeout failure of a single request.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// SideEffectError is returned when a one-shot side effect fails.
type SideEffectError struct {
	Phase  string
	Effect string
	Err    error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s in phase %s failed: %v", e.Effect, e.Phase, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}
