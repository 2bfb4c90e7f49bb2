package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

// vuPool is a bounded set of reusable virtual users.
//
// Idle VUs wait in a buffered channel sized to max, so release never
// blocks. The spawned count is guarded by mu; busy is at most max.
type vuPool struct {
	idle chan loadtest.VirtualUser

	mu    sync.Mutex
	total int
	max   int

	busy atomic.Int32
	peak atomic.Int32
}

func newVUPool(preAllocated, max int) *vuPool {
	if max < 1 {
		max = 1
	}
	if preAllocated > max {
		preAllocated = max
	}

	p := &vuPool{
		idle: make(chan loadtest.VirtualUser, max),
		max:  max,
	}
	for i := 0; i < preAllocated; i++ {
		p.total++
		p.idle <- loadtest.VirtualUser{ID: p.total}
	}
	return p
}

// tryAcquire returns an idle VU, or spawns one if the pool is below max.
// It reports false when the pool is saturated.
func (p *vuPool) tryAcquire() (loadtest.VirtualUser, bool) {
	select {
	case vu := <-p.idle:
		p.markBusy()
		return vu, true
	default:
	}

	p.mu.Lock()
	if p.total < p.max {
		p.total++
		vu := loadtest.VirtualUser{ID: p.total}
		p.mu.Unlock()
		p.markBusy()
		return vu, true
	}
	p.mu.Unlock()

	return loadtest.VirtualUser{}, false
}

// acquire is like tryAcquire but blocks until a VU is released or ctx is
// done.
func (p *vuPool) acquire(ctx context.Context) (loadtest.VirtualUser, error) {
	if vu, ok := p.tryAcquire(); ok {
		return vu, nil
	}

	select {
	case <-ctx.Done():
		return loadtest.VirtualUser{}, ctx.Err()
	case vu := <-p.idle:
		p.markBusy()
		return vu, nil
	}
}

// release returns a VU obtained from acquire or tryAcquire.
func (p *vuPool) release(vu loadtest.VirtualUser) {
	p.busy.Add(-1)
	p.idle <- vu
}

func (p *vuPool) markBusy() {
	n := p.busy.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// size returns the number of spawned VUs.
func (p *vuPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *vuPool) busyCount() int {
	return int(p.busy.Load())
}

func (p *vuPool) peakBusy() int {
	return int(p.peak.Load())
}
