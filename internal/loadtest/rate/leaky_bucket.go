// Package rate provides the tick clock that paces arrival-rate executors.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket paces iterations at a fixed rate.
//
// The bucket maintains a virtual "drip" time advancing at the configured
// rate. Each call to Next returns when the next tick is due; if the caller
// is behind schedule the tick is due immediately. At most maxBurst ticks are
// accumulated: the default of one means a late consumer never bursts, while
// a larger burst lets a consumer catch up on ticks it fell behind on.
//
// The first tick is due immediately.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	rate        float64 // ticks per second
	lastDrip    time.Time
	accumulated float64
	maxBurst    float64
	mu          sync.Mutex

	totalTicks    atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
}

// NewLeakyBucket creates a bucket issuing rate ticks per timeUnit.
// A non-positive rate defaults to 1 and a non-positive timeUnit to one
// second.
func NewLeakyBucket(rate float64, timeUnit time.Duration) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, timeUnit, 1)
}

// NewLeakyBucketWithBurst creates a bucket that stores up to maxBurst due
// ticks while the consumer is slow and hands them out back to back once it
// returns. A maxBurst below 1 is treated as 1.
func NewLeakyBucketWithBurst(rate float64, timeUnit time.Duration, maxBurst float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1
	}
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	if maxBurst < 1 {
		maxBurst = 1
	}
	return &LeakyBucket{
		rate:        rate / timeUnit.Seconds(),
		lastDrip:    time.Now(),
		accumulated: 1,
		maxBurst:    maxBurst,
	}
}

// Rate returns the tick rate per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Interval returns the time between two ticks.
func (lb *LeakyBucket) Interval() time.Duration {
	return time.Duration(float64(time.Second) / lb.Rate())
}

// Next reserves the next tick and returns when it is due. The returned time
// may be in the past if the caller is behind schedule.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > lb.maxBurst {
		lb.accumulated = lb.maxBurst
	}
	lb.totalTicks.Add(1)

	if lb.accumulated >= 1 {
		lb.accumulated -= 1
		lb.lastDrip = now
		return now
	}

	wait := time.Duration((1 - lb.accumulated) / lb.rate * float64(time.Second))
	next := now.Add(wait)

	// lastDrip moves to the reserved tick so waking at next does not count
	// the same interval twice.
	lb.accumulated = 0
	lb.lastDrip = next
	lb.totalWaitTime.Add(int64(wait))

	return next
}

// Backlog returns the number of whole ticks already due and not yet taken.
func (lb *LeakyBucket) Backlog() int64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	elapsed := time.Since(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	due := lb.accumulated + elapsed*lb.rate
	if due > lb.maxBurst {
		due = lb.maxBurst
	}
	return int64(due)
}

// Wait blocks until the next tick is due or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := time.Until(lb.Next())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats returns counters describing the bucket's operation.
func (lb *LeakyBucket) Stats() Stats {
	lb.mu.Lock()
	rate := lb.rate
	accumulated := lb.accumulated
	lb.mu.Unlock()

	return Stats{
		Rate:          rate,
		Accumulated:   accumulated,
		TotalTicks:    lb.totalTicks.Load(),
		TotalWaitTime: time.Duration(lb.totalWaitTime.Load()),
	}
}

// Stats contains statistics about a LeakyBucket.
type Stats struct {
	Rate          float64       `json:"rate"` // ticks per second
	Accumulated   float64       `json:"accumulated"`
	TotalTicks    int64         `json:"totalTicks"`
	TotalWaitTime time.Duration `json:"totalWaitTime"`
}
