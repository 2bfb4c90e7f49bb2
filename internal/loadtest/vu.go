// Package loadtest contains the building blocks shared by every part of the
// load engine: virtual users, iterations, actions and their results.
package loadtest

import (
	"fmt"
	"time"
)

// VirtualUser is a simulated client identity.
//
// IDs are sequential starting at 1 within a single executor. A VirtualUser
// is a plain value: it owns no shared mutable state and is passed explicitly
// into every action call.
type VirtualUser struct {
	ID int `json:"id"`
}

func (vu VirtualUser) String() string {
	return fmt.Sprintf("VU-%d", vu.ID)
}

// Iteration identifies one execution of an action by a virtual user.
type Iteration struct {
	// Phase is the name of the phase that scheduled the iteration
	Phase string

	// VU is the virtual user executing the iteration
	VU VirtualUser

	// Number is the 1-based iteration counter within the phase
	Number int64

	// Scheduled is the tick time the iteration was dispatched for
	Scheduled time.Time
}
